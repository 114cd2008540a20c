package app

import (
	"fmt"
	"os"

	"pdfbot/internal/config"
	"pdfbot/internal/database"
	"pdfbot/internal/pdfbot"
	"pdfbot/internal/store"
	"pdfbot/internal/tools"
)

// App is the application layer between the CLI (or an embedding transport)
// and the service. It constructs all dependencies from config and manages
// their lifecycle on Close.
type App struct {
	cfg      *config.Config
	db       pdfbot.Database
	store    pdfbot.FileStore
	registry *pdfbot.Registry
	service  *pdfbot.Service
	reaper   *pdfbot.Reaper
	logFile  *os.File
}

// New creates a fully wired App from the given config. operation identifies
// the command being run (e.g. "Upload", "Merge") and tags every log line.
// The caller must call Close when done.
func New(cfg *config.Config, operation string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.NewFileSystemStore(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("creating file store: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating session index: %w", err)
	}

	slogger, logFile, err := newLogger(cfg.LogDir, operation)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	clock := pdfbot.RealClock{}
	registry := pdfbot.NewRegistry(db, st, clock, logger, cfg.SessionTTL())
	toolchain := tools.NewExecToolchain(cfg.Tools)
	service := pdfbot.NewService(registry, st, db, toolchain, logger, clock, pdfbot.UUIDGenerator{}, pdfbot.Limits{
		MaxFileBytes:   cfg.MaxFileBytes(),
		ToolTimeout:    cfg.ToolTimeout(),
		DefaultDPI:     cfg.DefaultDPI,
		MaxRenderPages: cfg.MaxRenderPages,
	})
	reaper := pdfbot.NewReaper(registry, cfg.ReapInterval(), clock, logger)

	return &App{
		cfg:      cfg,
		db:       db,
		store:    st,
		registry: registry,
		service:  service,
		reaper:   reaper,
		logFile:  logFile,
	}, nil
}

// Service returns the command executor.
func (a *App) Service() *pdfbot.Service { return a.service }

// Reaper returns the TTL reaper. An embedding transport runs Reaper().Run
// in the background; the CLI calls Sweep for one-shot reaps.
func (a *App) Reaper() *pdfbot.Reaper { return a.reaper }

// Upload stores the file at path into the user's working set.
func (a *App) Upload(userID int64, path string) (*pdfbot.FileRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return a.service.Upload(userID, info.Name(), f, info.Size())
}

// Close releases all resources.
func (a *App) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing session index: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
