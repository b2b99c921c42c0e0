package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/livecapture/internal/config"
	"github.com/andresmejia3/livecapture/internal/logging"
	"github.com/andresmejia3/livecapture/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the scan and validate commands
type Options struct {
	FacesPath     string
	DetectorCmd   string
	VideoPath     string
	ProfilePath   string
	OutputDir     string
	FrameInterval string
	Phase         string
	Save          bool
	Quick         bool
}

// needsDB marks commands that open the store before running.
const needsDB = "needs-db"

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// dbURL is the connection string
	dbURL string

	logLevel  string
	logFile   string
	log       = logging.Discard()
	logCloser io.Closer
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "livecapture",
	Short:   "Guided multi-angle face capture",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(); err != nil {
			return err
		}

		l, closer, err := logging.New(logging.Options{Level: logLevel, File: logFile})
		if err != nil {
			return err
		}
		log, logCloser = l, closer

		if cmd.Annotations[needsDB] == "true" {
			return openDB(cmd.Context())
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
			DB = nil
		}
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// openDB connects once; later calls are no-ops.
func openDB(ctx context.Context) error {
	if DB != nil {
		return nil
	}
	url := config.DatabaseURL(dbURL)
	s, err := store.New(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = s
	log.WithField("configured", config.DatabaseConfigured(dbURL)).Debug("database connected")
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: POSTGRES_* env or "+config.DefaultDatabaseURL+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", logrus.InfoLevel.String(), "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this rotating file")
}
