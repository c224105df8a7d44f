package blob

import (
	"context"
	"io"
	"time"
)

// Backend defines the interface for blob storage operations. It is
// implemented by the S3 backend for production and by an in-memory
// backend for local development and tests.
type Backend interface {
	// GetObject retrieves an object from storage by its key
	GetObject(ctx context.Context, key string) (*GetObjectResponse, error)

	// GetObjectPresigned generates a presigned URL for downloading an object
	GetObjectPresigned(ctx context.Context, key string) (string, error)

	// PutObject uploads a single object to storage, overwriting any
	// existing object at the same key
	PutObject(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error)

	// DeleteObject removes an object from storage, returns true if successful
	DeleteObject(ctx context.Context, key string) (bool, error)

	// ListObjects returns all objects whose key starts with prefix.
	// An empty prefix lists the whole bucket.
	ListObjects(ctx context.Context, prefix string) ([]*ObjectInfo, error)

	// Delegate returns the underlying backend implementation
	Delegate() any
}

// ===================================================================================================

type GetObjectResponse struct {
	Body         io.ReadCloser
	ETag         string
	Size         int64
	LastModified time.Time
}

type PutObjectParams struct {
	Key         string
	ContentType string
	Size        int64
	Body        io.Reader
}

type PutObjectResponse struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
}

type ObjectInfo struct {
	Key          string `json:"key"`
	ETag         string `json:"etag"`
	Size         int64  `json:"size"`
	LastModified string `json:"lastModified"`
}
