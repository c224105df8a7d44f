package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/uplinkhq/uplink/internal/sdk"
	"github.com/uplinkhq/uplink/internal/version"
)

var (
	home, _          = os.UserHomeDir()
	defaultServerURL = "http://localhost:8080"
	configFileName   = "config"
)

var rootCmd = &cobra.Command{
	Use:           "uplink",
	Short:         "Uplink CLI",
	Version:       version.Detailed(),
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().StringP("server", "s", defaultServerURL, "Uplink server URL")
	rootCmd.PersistentFlags().StringP("owner", "o", "", "Owner id for sessions")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Uplink config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, red.Render("error:"), err)
		}
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if configFilePath, _ := cmd.Flags().GetString("config"); configFilePath != "" {
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".uplink"))
		viper.AddConfigPath(filepath.Join(home, ".config/uplink"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	viper.BindPFlag("owner_id", cmd.Flags().Lookup("owner"))

	viper.SetEnvPrefix("UPLINK")
	viper.AutomaticEnv()

	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:   level,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	})))

	return nil
}

func newSDKClient() (*sdk.Client, error) {
	return sdk.New(viper.GetString("server_url"))
}

func ownerID() string {
	return viper.GetString("owner_id")
}
