package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mirrorkit/mirrorkit/internal/config"
	"github.com/mirrorkit/mirrorkit/internal/mirror"
	"github.com/mirrorkit/mirrorkit/internal/utils"
	"github.com/mirrorkit/mirrorkit/internal/version"
)

var (
	cyan  = color.New(color.FgHiCyan, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "mirrorkit",
	Short:   "Continuous one-way directory mirror with quarantine instead of deletion",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &config.Config{
			SourceRoot:   viper.GetString("source_root"),
			MirrorRoot:   viper.GetString("mirror_root"),
			LogDir:       viper.GetString("log_dir"),
			SyncInterval: viper.GetDuration("sync_interval"),
			Checksum:     viper.GetBool("checksum"),
		}
		if err := cfg.Resolve(); err != nil {
			return err
		}

		setupLogging(cfg)
		cmd.SilenceUsage = true

		// a missing source root is the only fatal startup error; the mirror
		// is left completely untouched
		if err := cfg.Validate(); err != nil {
			slog.Error("startup validation failed", "error", err)
			return err
		}

		daemon, _ := cmd.Flags().GetBool("daemon")
		once, _ := cmd.Flags().GetBool("once")

		mgr := mirror.NewManager(cfg)

		if once {
			stats, err := mgr.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("synced %d files (%d copied, %d skipped, %d failed)\n",
				stats.Scanned, stats.Copied, stats.Skipped, stats.Failed)
			return nil
		}

		if !daemon {
			showBanner(cfg)
		}

		slog.Info("mirrorkit start",
			"version", version.Short(),
			"source", cfg.SourceRoot,
			"mirror", cfg.MirrorRoot,
			"interval", cfg.SyncInterval,
		)

		if err := mgr.Start(cmd.Context()); err != nil {
			return err
		}

		defer slog.Info("Bye!")
		mgr.Wait(cmd.Context())
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().Bool("daemon", false, "Run unattended, suitable for a service manager")
	rootCmd.Flags().Bool("once", false, "Run a single full reconciliation pass and exit")
	rootCmd.Flags().StringP("source", "s", config.DefaultSourceRoot(), "Source tree to mirror")
	rootCmd.Flags().StringP("mirror", "m", config.DefaultMirrorRoot(), "Backup destination")
	rootCmd.Flags().StringP("log-dir", "l", config.DefaultLogDir(), "Daemon log directory")
	rootCmd.Flags().DurationP("interval", "i", config.DefaultSyncInterval, "Reconciliation interval")
	rootCmd.Flags().Bool("checksum", false, "Compare file content hashes during reconciliation, not just sizes")
	rootCmd.MarkFlagsMutuallyExclusive("daemon", "once")
}

func loadConfig(cmd *cobra.Command) error {
	// optional .env next to the binary, real env always wins
	_ = godotenv.Load()

	viper.BindPFlag("source_root", cmd.Flags().Lookup("source"))
	viper.BindPFlag("mirror_root", cmd.Flags().Lookup("mirror"))
	viper.BindPFlag("log_dir", cmd.Flags().Lookup("log-dir"))
	viper.BindPFlag("sync_interval", cmd.Flags().Lookup("interval"))
	viper.BindPFlag("checksum", cmd.Flags().Lookup("checksum"))

	// both bare (SOURCE_ROOT) and prefixed (MIRRORKIT_SOURCE_ROOT) forms
	viper.BindEnv("source_root", "MIRRORKIT_SOURCE_ROOT", "SOURCE_ROOT")
	viper.BindEnv("mirror_root", "MIRRORKIT_MIRROR_ROOT", "MIRROR_ROOT")
	viper.BindEnv("log_dir", "MIRRORKIT_LOG_DIR", "LOG_DIR")
	viper.BindEnv("sync_interval", "MIRRORKIT_SYNC_INTERVAL", "SYNC_INTERVAL")
	viper.BindEnv("checksum", "MIRRORKIT_CHECKSUM", "CHECKSUM")

	return nil
}

// setupLogging fans slog out to a tinted console handler and a rotating log
// file under the configured log dir.
func setupLogging(cfg *config.Config) {
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	fileWriter := &lumberjack.Logger{
		Filename:   cfg.LogFilePath(),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	fileHandler := slog.NewTextHandler(fileWriter, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))
}

func showBanner(cfg *config.Config) {
	fmt.Println(cyan(version.AppName) + " " + version.Short())
	fmt.Println(green("  source: ") + cfg.SourceRoot)
	fmt.Println(green("  mirror: ") + cfg.MirrorRoot)
	fmt.Println(green("  logs:   ") + cfg.LogFilePath())
	fmt.Println("Press Ctrl+C to stop.")
}

func main() {
	// console-only logging until the log dir is known
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:   slog.LevelInfo,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
