package blob

import "fmt"

type S3Config struct {
	BucketName    string `mapstructure:"bucket_name"`
	Region        string `mapstructure:"region"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Endpoint      string `mapstructure:"endpoint"`
	UseAccelerate bool   `mapstructure:"use_accelerate"`
}

func (c *S3Config) Validate() error {
	if c.BucketName == "" {
		return fmt.Errorf("bucket_name required")
	}
	if c.Region == "" {
		return fmt.Errorf("region required")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access_key required")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret_key required")
	}
	return nil
}

// Config selects and configures the storage backend.
// Backend "memory" needs no further configuration and keeps nothing
// across restarts, it exists for local development.
type Config struct {
	Backend string   `mapstructure:"backend"` // "s3" or "memory"
	S3      S3Config `mapstructure:"s3"`
}

func (c *Config) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "s3", "":
		return c.S3.Validate()
	default:
		return fmt.Errorf("unknown blob backend %q", c.Backend)
	}
}

// NewBackend builds the Backend described by the config.
func NewBackend(cfg *Config) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend == "memory" {
		return NewMemoryBackend(), nil
	}
	return NewS3BackendWithConfig(&cfg.S3), nil
}
