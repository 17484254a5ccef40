package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/sheets/v4"

	"github.com/mailledger/mailledger/internal/config"
	"github.com/mailledger/mailledger/internal/extract"
	"github.com/mailledger/mailledger/internal/pipeline"
	"github.com/mailledger/mailledger/internal/receiver"
	"github.com/mailledger/mailledger/internal/sheet"
	"github.com/mailledger/mailledger/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	release, ok, err := pipeline.AcquireLock(cfg.LockFile)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("another run holds the lock, skipping this invocation", "lock", cfg.LockFile)
		return nil
	}
	defer release()

	credPath, cleanup, err := cfg.MaterializeCredentials()
	if err != nil {
		return err
	}
	defer cleanup()

	httpClient, err := googleClient(ctx, credPath)
	if err != nil {
		return err
	}

	recv, err := newReceiver(cfg, logger)
	if err != nil {
		return err
	}

	recordLog, err := sheet.NewClient(ctx, httpClient,
		cfg.GetSpreadsheetID(), cfg.SheetName,
		cfg.AttachmentColumns, cfg.BodyLimit, logger)
	if err != nil {
		return err
	}

	store, err := storage.NewDriveStore(ctx, httpClient, cfg.GetDriveFolderID(), logger)
	if err != nil {
		return err
	}

	var extractor extract.Extractor = extract.Disabled{}
	if cfg.ExtractEndpoint != "" {
		extractor = extract.New(cfg.ExtractEndpoint, cfg.ExtractAPIKey, logger)
	}

	p := pipeline.New(recv, recordLog, store, extractor, logger)
	sum, err := p.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("run complete",
		"fetched", sum.Fetched,
		"parsed", sum.Parsed,
		"skipped", sum.Skipped,
		"rows", sum.Rows,
		"upload_failures", sum.UploadFailures,
	)
	return nil
}

// googleClient builds an HTTP client authorized by the materialized
// service-account bundle, scoped for Sheets and Drive.
func googleClient(ctx context.Context, credPath string) (*http.Client, error) {
	data, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data,
		sheets.SpreadsheetsScope,
		drive.DriveScope,
	)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return oauth2.NewClient(ctx, creds.TokenSource), nil
}

func newReceiver(cfg *config.Config, logger *slog.Logger) (receiver.Receiver, error) {
	switch cfg.Protocol {
	case "pop3":
		return receiver.NewPOP3(
			cfg.Host, cfg.GetPort(),
			cfg.Username, cfg.Password,
			cfg.UseTLS, logger,
		), nil
	case "imap":
		return receiver.NewIMAP(
			cfg.Host, cfg.GetPort(),
			cfg.Username, cfg.Password,
			cfg.UseTLS, cfg.Folder, logger,
		), nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", cfg.Protocol)
	}
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
