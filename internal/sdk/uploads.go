package sdk

import (
	"context"
	"fmt"

	"github.com/imroc/req/v3"
)

const (
	v1Uploads        = "/api/v1/uploads"
	v1UploadByID     = "/api/v1/uploads/{id}"
	v1UploadChunk    = "/api/v1/uploads/{id}/chunks/{index}"
	v1UploadPause    = "/api/v1/uploads/{id}/pause"
	v1UploadResume   = "/api/v1/uploads/{id}/resume"
	v1UploadFinalize = "/api/v1/uploads/{id}/finalize"
)

type UploadAPI struct {
	client *req.Client
}

func newUploadAPI(client *req.Client) *UploadAPI {
	return &UploadAPI{client: client}
}

func (a *UploadAPI) CreateSession(ctx context.Context, params *CreateSessionParams) (*Session, error) {
	var session Session
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&session).
		SetErrorResult(&APIError{}).
		Post(v1Uploads)
	if err := handleAPIError(resp, err, "create session"); err != nil {
		return nil, err
	}
	return &session, nil
}

func (a *UploadAPI) GetSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetSuccessResult(&session).
		SetErrorResult(&APIError{}).
		Get(v1UploadByID)
	if err := handleAPIError(resp, err, "get session"); err != nil {
		return nil, err
	}
	return &session, nil
}

func (a *UploadAPI) ListSessions(ctx context.Context, ownerID string) ([]*Session, error) {
	var list ListSessionsResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("ownerId", ownerID).
		SetSuccessResult(&list).
		SetErrorResult(&APIError{}).
		Get(v1Uploads)
	if err := handleAPIError(resp, err, "list sessions"); err != nil {
		return nil, err
	}
	return list.Sessions, nil
}

// UploadChunk sends one raw chunk body. Safe to retry: the server
// overwrites on the same (session, index) key.
func (a *UploadAPI) UploadChunk(ctx context.Context, id string, index int, data []byte) (*UploadChunkResponse, error) {
	var result UploadChunkResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetPathParam("index", fmt.Sprintf("%d", index)).
		SetContentType("application/octet-stream").
		SetBodyBytes(data).
		SetSuccessResult(&result).
		SetErrorResult(&APIError{}).
		Put(v1UploadChunk)
	if err := handleAPIError(resp, err, fmt.Sprintf("upload chunk %d", index)); err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *UploadAPI) Pause(ctx context.Context, id string) (*Session, error) {
	return a.postTransition(ctx, id, v1UploadPause, "pause session")
}

func (a *UploadAPI) Resume(ctx context.Context, id string) (*Session, error) {
	return a.postTransition(ctx, id, v1UploadResume, "resume session")
}

func (a *UploadAPI) postTransition(ctx context.Context, id, path, operation string) (*Session, error) {
	var session Session
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetSuccessResult(&session).
		SetErrorResult(&APIError{}).
		Post(path)
	if err := handleAPIError(resp, err, operation); err != nil {
		return nil, err
	}
	return &session, nil
}

// Finalize asks the server to assemble the file. Assembly is
// asynchronous; poll GetFinalizeStatus for the outcome.
func (a *UploadAPI) Finalize(ctx context.Context, id string) (*Session, error) {
	return a.postTransition(ctx, id, v1UploadFinalize, "finalize session")
}

func (a *UploadAPI) GetFinalizeStatus(ctx context.Context, id string) (*FinalizeStatus, error) {
	var status FinalizeStatus
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetSuccessResult(&status).
		SetErrorResult(&APIError{}).
		Get(v1UploadFinalize)
	if err := handleAPIError(resp, err, "finalize status"); err != nil {
		return nil, err
	}
	return &status, nil
}

func (a *UploadAPI) Cancel(ctx context.Context, id string) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetErrorResult(&APIError{}).
		Delete(v1UploadByID)
	return handleAPIError(resp, err, "cancel session")
}
