package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ossyrian/xpack/internal/archive"
	"github.com/ossyrian/xpack/internal/config"
	"github.com/ossyrian/xpack/internal/logging"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	fs      afero.Fs
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logs    io.Closer
}

func newApp(fs afero.Fs) *app {
	a := &app{fs: fs, v: viper.New()}
	config.SetDefaults(a.v)
	return a
}

// command builds the root command with every subcommand attached
func (a *app) command() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "xpack",
		Short:             "Create, inspect and edit xpack archives",
		Version:           archive.Version(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "path to config file")

	// archive settings
	flags.StringP("password", "p", "", "password to encrypt/decrypt entry data")
	flags.String("metadata-key", "", "key for the archive header and tables")
	flags.String("codec", "zlib", "compressor recorded in new archives (zlib, zstd)")
	flags.BoolP("compress", "z", false, "compress added entries")
	flags.Bool("verify-crc", true, "check entry content against its CRC on read")
	flags.Bool("shrink", true, "truncate the file to the end of the archive on flush")

	// other opts
	flags.BoolP("force", "f", false, "overwrite existing entries or files")
	flags.IntP("jobs", "j", 4, "number of files or archives processed at once")
	flags.String("log-level", "info", "log level (debug, info, warn, error, fatal)")
	flags.String("log-output-dir", "", "directory to write log files (if set, logs are written to both stderr and file)")

	for key, name := range map[string]string{
		"password":       "password",
		"metadata_key":   "metadata-key",
		"codec":          "codec",
		"compress":       "compress",
		"verify_crc":     "verify-crc",
		"shrink":         "shrink",
		"force":          "force",
		"jobs":           "jobs",
		"log_level":      "log-level",
		"log_output_dir": "log-output-dir",
	} {
		a.v.BindPFlag(key, flags.Lookup(name))
	}

	rootCmd.AddCommand(
		a.makeCmd(),
		a.addCmd(),
		a.maddCmd(),
		a.rmCmd(),
		a.catCmd(),
		a.lsCmd(),
		a.dumpCmd(),
		a.unpackCmd(),
		a.checkCmd(),
		a.mergeCmd(),
		a.optimizeCmd(),
		a.diffCmd(),
	)
	return rootCmd
}

// initConfig reads in config file and environment variables if set
func (a *app) initConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			a.v.AddConfigPath(filepath.Join(home, ".config", "xpack"))
		}
		a.v.AddConfigPath("/etc/xpack")
		a.v.SetConfigName("config")
		a.v.SetConfigType("toml")
	}

	a.v.SetEnvPrefix("XPACK")
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		if a.cfgFile != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}
	fmt.Fprintf(os.Stderr, "Using config file: %s\n", a.v.ConfigFileUsed())
	return nil
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	if err := a.initConfig(); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logs, err := logging.Setup(cfg.LogLevel, cfg.LogOutputDir)
	if err != nil {
		return fmt.Errorf("could not set up logging: %w", err)
	}
	a.logs = logs
	return nil
}

func (a *app) close() error {
	if a.logs == nil {
		return nil
	}
	err := a.logs.Close()
	a.logs = nil
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	a := newApp(afero.NewOsFs())
	err := a.command().ExecuteContext(ctx)
	stop()
	if closeErr := a.close(); closeErr != nil {
		slog.Warn("failed to close log file", "error", closeErr)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
