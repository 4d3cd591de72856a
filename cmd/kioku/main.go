// Package main is the kioku CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/recorder"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/storage/postgres"
	"github.com/hyperjump/kioku/internal/watcher"
	"github.com/hyperjump/kioku/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// Globals are the flags shared by every command.
type Globals struct {
	Config string `help:"Config file path." default:"/usr/local/etc/kioku/config.yaml" short:"c"`
	Debug  bool   `help:"Enable debug logging."`

	out io.Writer `kong:"-"`
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

// setup loads the config and builds a logger honoring both debug switches.
func (g *Globals) setup() (*config.Config, string, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(g.Config)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || g.Debug)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, resolved, logger, nil
}

// CLI is the kioku command tree.
type CLI struct {
	Globals

	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Recall   RecallCmd   `cmd:"" help:"Retrieve memories for an owner."`
	Remember RememberCmd `cmd:"" help:"Store a memory."`
	Recent   RecentCmd   `cmd:"" help:"List an owner's recent memories."`
	Version  VersionCmd  `cmd:"" help:"Print the version."`
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// Components holds the initialized store, embedder, engine and recorder.
type Components struct {
	Storage  storage.Store
	Embedder embedding.Embedder
	Engine   *search.Engine
	Recorder *recorder.Recorder
}

// Close releases the embedder and the store.
func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return storage.NewMemoryStorage(), nil
	case config.BackendPostgres:
		return postgres.New(ctx, cfg.Storage.PostgresURL, postgres.WithLogger(logger))
	default:
		return storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	}
}

func searchOptions(sc config.SearchConfig) search.Options {
	return search.Options{
		DefaultLimit:       sc.DefaultLimit,
		DefaultThreshold:   sc.DefaultThreshold,
		KeywordWindow:      sc.KeywordWindow,
		ContextWindow:      sc.ContextWindow,
		ContextConcurrency: sc.ContextConcurrency,
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger.Info("storage ready", zap.String("backend", cfg.Storage.Backend))

	embedder, err := embedding.New(ctx, cfg.Embedding, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	engine := search.NewEngine(store, embedder,
		search.WithLogger(logger),
		search.WithOptions(searchOptions(cfg.Search)))
	rec := recorder.New(store, embedder, recorder.WithLogger(logger))

	return &Components{
		Storage:  store,
		Embedder: embedder,
		Engine:   engine,
		Recorder: rec,
	}, nil
}

// ServeCmd runs the HTTP API and reloads search tunables when the config file changes.
type ServeCmd struct{}

// Run starts the server and blocks until SIGINT or SIGTERM.
func (c *ServeCmd) Run(g *Globals) error {
	cfg, resolved, logger, err := g.setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("config loaded", zap.String("config_path", resolved), zap.Bool("debug", cfg.Debug || g.Debug))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	srv := server.NewServer(components.Engine, components.Recorder, components.Storage, cfg, logger)

	reload := func(path string) {
		next, err := config.Load(path)
		if err != nil {
			logger.Warn("config reload failed, keeping current settings", zap.String("path", path), zap.Error(err))
			return
		}
		components.Engine.SetOptions(searchOptions(next.Search))
		srv.SetMaxLimit(next.Search.MaxLimit)
		logger.Info("search settings reloaded",
			zap.Int("default_limit", next.Search.DefaultLimit),
			zap.Float64("default_threshold", next.Search.DefaultThreshold),
			zap.Int("max_limit", next.Search.MaxLimit))
	}
	w, err := watcher.NewWatcher([]string{resolved}, reload, watcher.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		logger.Warn("config watcher disabled", zap.Error(err))
	}
	defer w.Stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// RecallCmd retrieves memories directly from the configured store.
type RecallCmd struct {
	Owner     string   `help:"Owner id." required:""`
	Limit     int      `help:"Maximum results (0 uses the configured default)."`
	Platforms []string `help:"Only include these platforms (telegram, web, screen)." sep:","`
	Moods     []string `help:"Boost and filter by these moods." sep:","`
	Context   bool     `help:"Expand results with conversation threads and references."`
	Hybrid    bool     `help:"Fuse vector and keyword results."`
	Format    string   `help:"Output format." enum:"text,json" default:"text"`
	Query     []string `arg:"" optional:"" help:"Query text. Omit for the most relevant recent memories."`
}

func (c *RecallCmd) query() (*models.Query, error) {
	q := &models.Query{
		OwnerID: c.Owner,
		Text:    strings.TrimSpace(strings.Join(c.Query, " ")),
		Limit:   c.Limit,
		Moods:   c.Moods,
	}
	for _, p := range c.Platforms {
		platform, err := models.ParsePlatform(p)
		if err != nil {
			return nil, err
		}
		q.Platforms = append(q.Platforms, platform)
	}
	return q, q.Validate()
}

// Run executes the recall.
func (c *RecallCmd) Run(g *Globals) error {
	q, err := c.query()
	if err != nil {
		return err
	}
	if c.Hybrid && q.Text == "" {
		return fmt.Errorf("%w: --hybrid needs query text", models.ErrInvalidQuery)
	}
	cfg, _, logger, err := g.setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	format := cli.OutputFormat(c.Format)
	switch {
	case c.Context:
		res, err := components.Engine.RetrieveWithContext(ctx, q)
		if err != nil {
			return err
		}
		return cli.WriteContext(g.stdout(), res, format)
	case c.Hybrid:
		results, err := components.Engine.HybridSearch(ctx, q.OwnerID, q.Text, q)
		if err != nil {
			return err
		}
		return cli.WriteResults(g.stdout(), results, format)
	default:
		results, err := components.Engine.Retrieve(ctx, q)
		if err != nil {
			return err
		}
		return cli.WriteResults(g.stdout(), results, format)
	}
}

// RememberCmd stores one memory.
type RememberCmd struct {
	Owner        string   `help:"Owner id." required:""`
	Platform     string   `help:"Source platform." enum:"telegram,web,screen" default:"web"`
	Conversation string   `help:"Conversation id."`
	Importance   float64  `help:"Importance in [0,1]." default:"0.5"`
	Mood         string   `help:"Mood at capture time."`
	Intensity    float64  `help:"Mood intensity in [0,1]." default:"0.5"`
	References   []string `help:"Ids of memories this one refers to." sep:","`
	Format       string   `help:"Output format." enum:"text,json" default:"text"`
	Content      []string `arg:"" help:"Memory content."`
}

func (c *RememberCmd) input() (*models.RecordInput, error) {
	platform, err := models.ParsePlatform(c.Platform)
	if err != nil {
		return nil, err
	}
	importance := c.Importance
	in := &models.RecordInput{
		OwnerID:        c.Owner,
		Platform:       platform,
		Content:        strings.Join(c.Content, " "),
		Importance:     &importance,
		ConversationID: c.Conversation,
		References:     c.References,
	}
	if c.Mood != "" {
		in.Emotion = &models.EmotionalContext{Mood: c.Mood, Intensity: c.Intensity}
	}
	return in, in.Validate()
}

// Run stores the memory and prints it.
func (c *RememberCmd) Run(g *Globals) error {
	in, err := c.input()
	if err != nil {
		return err
	}
	cfg, _, logger, err := g.setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	rec, err := components.Recorder.Remember(ctx, in)
	if err != nil {
		return err
	}
	return cli.WriteRecords(g.stdout(), []*models.Record{rec}, cli.OutputFormat(c.Format))
}

// RecentCmd lists recent memories.
type RecentCmd struct {
	Owner  string  `help:"Owner id." required:""`
	Hours  float64 `help:"Look-back window in hours." default:"24"`
	Limit  int     `help:"Maximum memories." default:"50"`
	Format string  `help:"Output format." enum:"text,json" default:"text"`
}

// Run lists the memories.
func (c *RecentCmd) Run(g *Globals) error {
	if c.Hours < 0 || c.Limit < 0 {
		return fmt.Errorf("%w: hours and limit must not be negative", models.ErrInvalidQuery)
	}
	cfg, _, logger, err := g.setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	window := time.Duration(c.Hours * float64(time.Hour))
	recs, err := components.Engine.Recent(ctx, c.Owner, window, c.Limit)
	if err != nil {
		return err
	}
	return cli.WriteRecords(g.stdout(), recs, cli.OutputFormat(c.Format))
}

// VersionCmd prints the build version.
type VersionCmd struct{}

// Run prints the version.
func (c *VersionCmd) Run(g *Globals) error {
	_, err := fmt.Fprintf(g.stdout(), "kioku version %s\n", version)
	return err
}

func newParser(c *CLI) (*kong.Kong, error) {
	return kong.New(c,
		kong.Name("kioku"),
		kong.Description("Hybrid memory retrieval engine"),
		kong.UsageOnError(),
		kong.Bind(&c.Globals),
	)
}

func main() {
	var c CLI
	parser, err := newParser(&c)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	parser.FatalIfErrorf(kctx.Run())
}
