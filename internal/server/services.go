package server

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/uplinkhq/uplink/internal/server/blob"
	"github.com/uplinkhq/uplink/internal/server/records"
	"github.com/uplinkhq/uplink/internal/server/upload"
)

type Services struct {
	Blob   blob.Backend
	Upload *upload.Service
}

func NewServices(config *Config, db *sqlx.DB) (*Services, error) {
	backend, err := blob.NewBackend(&config.Blob)
	if err != nil {
		return nil, fmt.Errorf("create blob backend: %w", err)
	}

	var creator upload.RecordCreator = upload.NoopRecordCreator{}
	if config.Records.URL != "" {
		creator = records.New(&config.Records)
	}

	uploadSvc, err := upload.NewService(db, backend, creator, &config.Upload)
	if err != nil {
		return nil, fmt.Errorf("create upload service: %w", err)
	}

	return &Services{
		Blob:   backend,
		Upload: uploadSvc,
	}, nil
}
