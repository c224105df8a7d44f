package server

import (
	"github.com/uplinkhq/uplink/internal/server/blob"
	"github.com/uplinkhq/uplink/internal/server/records"
	"github.com/uplinkhq/uplink/internal/server/upload"
)

const (
	DefaultAddr = "0.0.0.0:8080"

	// DefaultChunkRateLimit bounds chunk writes per client IP. With
	// 5MiB chunks a multi-gigabyte upload stays comfortably inside it.
	DefaultChunkRateLimit = "300-M"
)

type Config struct {
	HTTP    HTTPConfig     `mapstructure:"http"`
	Blob    blob.Config    `mapstructure:"blob"`
	Upload  upload.Config  `mapstructure:"upload"`
	Records records.Config `mapstructure:"records"`
	DBPath  string         `mapstructure:"db_path"`
}

type HTTPConfig struct {
	Addr           string `mapstructure:"addr"`
	CertFile       string `mapstructure:"cert_file"`
	KeyFile        string `mapstructure:"key_file"`
	ChunkRateLimit string `mapstructure:"chunk_rate_limit"`
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultAddr
	}
	if c.HTTP.ChunkRateLimit == "" {
		c.HTTP.ChunkRateLimit = DefaultChunkRateLimit
	}
	if c.DBPath == "" {
		c.DBPath = ":memory:"
	}
	return c.Blob.Validate()
}
