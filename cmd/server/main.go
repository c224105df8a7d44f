package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/uplinkhq/uplink/internal/server"
	"github.com/uplinkhq/uplink/internal/version"
)

func main() {
	// Setup logger
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "uplink-server",
		Short:   "Uplink Upload Server",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			slog.Info("uplink server",
				"version", version.Version,
				"revision", version.Revision,
				"build", version.BuildDate,
			)

			s, err := server.New(config)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			if err := s.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("server start", "error", err)
				return err
			}
			return nil
		},
	}

	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("bind", "b", server.DefaultAddr, "Address to bind the server")
	rootCmd.Flags().String("cert", "", "Path to the TLS certificate file")
	rootCmd.Flags().String("key", "", "Path to the TLS key file")
	rootCmd.Flags().String("db", "uplink.db", "Path to the sqlite database")
	rootCmd.Flags().String("blob-backend", "memory", "Blob backend (s3 or memory)")
	return rootCmd
}

// loadConfig layers .env, UPLINK_* environment variables, and flags
// into the server config. Flags win over environment.
func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	// optional, the environment may already be set
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("UPLINK")
	v.AutomaticEnv()

	v.BindPFlag("http_addr", cmd.Flags().Lookup("bind"))
	v.BindPFlag("http_cert_file", cmd.Flags().Lookup("cert"))
	v.BindPFlag("http_key_file", cmd.Flags().Lookup("key"))
	v.BindPFlag("db_path", cmd.Flags().Lookup("db"))
	v.BindPFlag("blob_backend", cmd.Flags().Lookup("blob-backend"))

	config := &server.Config{DBPath: v.GetString("db_path")}
	config.HTTP.Addr = v.GetString("http_addr")
	config.HTTP.CertFile = v.GetString("http_cert_file")
	config.HTTP.KeyFile = v.GetString("http_key_file")
	config.HTTP.ChunkRateLimit = v.GetString("chunk_rate_limit")

	config.Blob.Backend = v.GetString("blob_backend")
	config.Blob.S3.BucketName = v.GetString("s3_bucket")
	config.Blob.S3.Region = v.GetString("s3_region")
	config.Blob.S3.Endpoint = v.GetString("s3_endpoint")
	config.Blob.S3.AccessKey = v.GetString("s3_access_key")
	config.Blob.S3.SecretKey = v.GetString("s3_secret_key")
	config.Blob.S3.UseAccelerate = v.GetBool("s3_use_accelerate")

	config.Records.URL = v.GetString("records_url")
	config.Records.APIToken = v.GetString("records_api_token")

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
