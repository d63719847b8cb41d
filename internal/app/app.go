// Package app wires the store, clients and controllers into one unit with a
// single Open/Close lifecycle. The CLI, MCP server and web UI all start here.
package app

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/shutter/internal/capture"
	"github.com/hpungsan/shutter/internal/config"
	"github.com/hpungsan/shutter/internal/db"
	"github.com/hpungsan/shutter/internal/device"
	"github.com/hpungsan/shutter/internal/directory"
	"github.com/hpungsan/shutter/internal/logging"
	"github.com/hpungsan/shutter/internal/media"
	"github.com/hpungsan/shutter/internal/metrics"
	"github.com/hpungsan/shutter/internal/search"
)

// Options overrides parts of the wiring. Zero values use the defaults.
type Options struct {
	// Config skips loading baseDir/config.json when set.
	Config *config.Config

	// Logger replaces the logger built from Config.LogLevel.
	Logger *zap.Logger

	// HTTPClient is used by the directory client.
	HTTPClient *http.Client
}

// App holds the shared services. Search history and saved media live under
// separate keys of the same store.
type App struct {
	BaseDir   string
	Config    *config.Config
	Log       *zap.Logger
	DB        *sql.DB
	Store     *db.KV
	Metrics   *metrics.Metrics
	Media     *media.Library
	Directory *directory.Client
	Search    *search.Controller

	mu       sync.Mutex
	captures []*capture.Controller
	ownsLog  bool
	closed   bool
}

// Open builds an App rooted at baseDir and restores persisted search history.
// A history that cannot be read is logged and starts empty.
func Open(ctx context.Context, baseDir string, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(baseDir)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	log := opts.Logger
	ownsLog := false
	if log == nil {
		built, err := logging.New(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		log = built
		ownsLog = true
	}

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	dirClient, err := directory.New(directory.Options{
		Endpoint:   cfg.SearchEndpoint,
		Timeout:    cfg.SearchTimeout(),
		RPS:        cfg.LookupRPS,
		Burst:      cfg.LookupBurst,
		HTTPClient: opts.HTTPClient,
		Logger:     log,
	})
	if err != nil {
		database.Close()
		return nil, err
	}

	store := db.NewKV(database)
	m := metrics.New()
	debounce := cfg.SearchDebounce()
	if debounce == 0 {
		debounce = -1
	}

	a := &App{
		BaseDir:   baseDir,
		Config:    cfg,
		Log:       log,
		DB:        database,
		Store:     store,
		Metrics:   m,
		Media:     media.NewLibrary(store),
		Directory: dirClient,
		Search: search.New(dirClient, store, search.Options{
			Debounce: debounce,
			Logger:   log,
			Metrics:  m,
		}),
		ownsLog: ownsLog,
	}

	if _, err := a.Search.LoadHistory(ctx); err != nil {
		log.Warn("could not restore search history", zap.Error(err))
	}

	log.Debug("app opened", zap.String("base_dir", baseDir))
	return a, nil
}

// FSProvider returns a filesystem device that copies source into the
// configured media directory.
func (a *App) FSProvider(source string) *device.FSProvider {
	return device.NewFSProvider(a.Config.MediaDir, source, device.Permission(a.Config.CameraPermission))
}

// NewCapture returns a capture controller over provider. It is closed with
// the App. Callers run Initialize.
func (a *App) NewCapture(provider device.Provider, facing device.Facing) *capture.Controller {
	c := capture.New(provider, a.Media, capture.Options{
		Facing:         facing,
		SwitchCooldown: a.Config.SwitchCooldown(),
		Recording: device.RecordingOptions{
			Audio: !a.Config.MuteAudio,
			Codec: a.Config.VideoCodec,
		},
		Logger:  a.Log,
		Metrics: a.Metrics,
	})

	a.mu.Lock()
	a.captures = append(a.captures, c)
	a.mu.Unlock()
	return c
}

// Close tears down controllers, then the store.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	captures := a.captures
	a.captures = nil
	a.mu.Unlock()

	var errs []error
	for _, c := range captures {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.Search.Close()
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if a.ownsLog {
		// Sync on stderr commonly fails with EINVAL; nothing to report.
		_ = a.Log.Sync()
	}
	return stderrors.Join(errs...)
}
