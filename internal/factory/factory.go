package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mcoot/scoreroom/internal/api"
	"github.com/mcoot/scoreroom/internal/dependencies/clock"
	"github.com/mcoot/scoreroom/internal/dependencies/random"
	"github.com/mcoot/scoreroom/internal/ratelimit"
	"github.com/mcoot/scoreroom/internal/realtime"
	"github.com/mcoot/scoreroom/internal/services/access"
	"github.com/mcoot/scoreroom/internal/services/attempts"
	"github.com/mcoot/scoreroom/internal/services/presence"
	"github.com/mcoot/scoreroom/internal/storage"
	"github.com/mcoot/scoreroom/internal/storage/memory"
	redisstorage "github.com/mcoot/scoreroom/internal/storage/redis"
)

// Storage type constants
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
)

// Environment names
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Defaults for the rate limits and background work
const (
	DefaultHTTPRequestLimit  = 100
	DefaultHTTPWindow        = 15 * time.Minute
	DefaultCommandLimit      = 10
	DefaultCommandWindow     = time.Second
	DefaultJanitorInterval   = time.Minute
	DefaultAllowedOrigin     = "http://localhost:5173"
	generatedSecretLength    = 48
	generatedSecretAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	httpRateLimitRedisPrefix = "scoreroom:http_rate_limit"

	// MinProductionSecretLength is the shortest TOKEN_SECRET production accepts
	MinProductionSecretLength = 32
)

// placeholderMarkers flag sample secrets copied from docs or .env examples
var placeholderMarkers = []string{"changeme", "change-me", "change_me", "example", "placeholder", "your-secret", "your_secret"}

var (
	ErrInvalidStorageType   = errors.New("invalid StorageType: must be 'memory' or 'redis'")
	ErrRedisConfigRequired  = errors.New("RedisConfig required when StorageType is redis")
	ErrProductionSecret     = errors.New("TOKEN_SECRET must be set in production")
	ErrWeakSecret           = fmt.Errorf("TOKEN_SECRET must be at least %d characters and not a placeholder", MinProductionSecretLength)
	ErrProductionNeedsRedis = errors.New("production requires redis storage")
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Storage

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	Access      *access.Service
	Attempts    *attempts.Limiter
	Coordinator *presence.Coordinator

	// Realtime transport
	Hub       *realtime.Hub
	Router    *realtime.Router
	Throttle  *ratelimit.FixedWindow
	WebSocket *realtime.Handler

	// HTTP
	HTTPLimiter ratelimit.Limiter
	Handler     http.Handler

	logger  *slog.Logger
	cfg     Config
	stopBg  context.CancelFunc
	started bool
}

// Config holds configuration for the application factory
type Config struct {
	// Env is "development" (default) or "production"
	Env string
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory" or "redis")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// TokenSecret keys access tokens. Generated in development when empty.
	TokenSecret string
	// AllowedOrigins lists the browser origins allowed to open WebSockets
	AllowedOrigins []string
	// RoomTTL is the sliding room expiry; zero means the store default
	RoomTTL time.Duration
	// BcryptCost overrides the password hashing cost (tests use bcrypt.MinCost)
	BcryptCost int

	HTTPRequestLimit int
	HTTPWindow       time.Duration
	CommandLimit     int
	CommandWindow    time.Duration
	JanitorInterval  time.Duration
}

// IsProduction reports whether strict startup checks apply
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Validate enforces the startup rules. Failures are fatal.
func (c Config) Validate() error {
	switch c.StorageType {
	case "", StorageTypeMemory:
	case StorageTypeRedis:
		if c.RedisConfig == nil {
			return ErrRedisConfigRequired
		}
	default:
		return ErrInvalidStorageType
	}

	if c.Env != "" && c.Env != EnvDevelopment && c.Env != EnvProduction {
		return fmt.Errorf("invalid environment %q", c.Env)
	}
	if c.RoomTTL < 0 {
		return errors.New("room TTL must not be negative")
	}

	if c.IsProduction() {
		if c.TokenSecret == "" {
			return ErrProductionSecret
		}
		if isWeakSecret(c.TokenSecret) {
			return ErrWeakSecret
		}
		if c.StorageType != StorageTypeRedis {
			return ErrProductionNeedsRedis
		}
	}
	return nil
}

func isWeakSecret(secret string) bool {
	if len(secret) < MinProductionSecretLength {
		return true
	}
	lower := strings.ToLower(secret)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (c Config) withDefaults() Config {
	if c.Env == "" {
		c.Env = EnvDevelopment
	}
	if c.StorageType == "" {
		c.StorageType = StorageTypeMemory
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{DefaultAllowedOrigin}
	}
	if c.HTTPRequestLimit == 0 {
		c.HTTPRequestLimit = DefaultHTTPRequestLimit
	}
	if c.HTTPWindow == 0 {
		c.HTTPWindow = DefaultHTTPWindow
	}
	if c.CommandLimit == 0 {
		c.CommandLimit = DefaultCommandLimit
	}
	if c.CommandWindow == 0 {
		c.CommandWindow = DefaultCommandWindow
	}
	if c.JanitorInterval == 0 {
		c.JanitorInterval = DefaultJanitorInterval
	}
	return c
}

// New creates a new application with all dependencies wired
func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	// Create external dependencies
	clk := clock.New()
	rnd := random.New()

	// Create storage based on type
	var store storage.Storage
	switch cfg.StorageType {
	case StorageTypeMemory:
		memCfg := memory.DefaultConfig()
		if cfg.RoomTTL > 0 {
			memCfg.RoomTTL = cfg.RoomTTL
		}
		store = memory.New(clk, memCfg)
	case StorageTypeRedis:
		redisCfg := *cfg.RedisConfig
		if cfg.RoomTTL > 0 {
			redisCfg.RoomTTL = cfg.RoomTTL
		}
		redisStore, err := redisstorage.New(redisCfg, clk)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		store = redisStore
	}

	if cfg.TokenSecret == "" {
		cfg.TokenSecret = rnd.String(generatedSecretLength, generatedSecretAlphabet)
		logger.Warn("TOKEN_SECRET not set, using a generated secret; access tokens will not survive a restart")
	}

	app, err := newWithDependencies(cfg, store, clk, rnd, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(cfg Config, store storage.Storage, clk clock.Clock, rnd random.Random, logger *slog.Logger) (*App, error) {
	cfg = cfg.withDefaults()

	accessCfg := access.DefaultConfig()
	accessCfg.Secret = cfg.TokenSecret
	if cfg.BcryptCost != 0 {
		accessCfg.BcryptCost = cfg.BcryptCost
	}
	accessService, err := access.New(clk, accessCfg)
	if err != nil {
		return nil, err
	}

	limiter := attempts.New(store, clk, attempts.DefaultConfig(), logger)
	coordinator := presence.NewCoordinator(store, accessService, limiter, clk, rnd, logger)

	hub := realtime.NewHub(logger)
	throttle := ratelimit.NewFixedWindow(cfg.CommandLimit, cfg.CommandWindow, clk)
	router := realtime.NewRouter(coordinator, hub, throttle, logger)
	// Disconnect handling must outlive both the upgrade request and shutdown
	wsHandler := realtime.NewHandler(context.Background(), hub, router, cfg.AllowedOrigins, logger)

	var httpLimiter ratelimit.Limiter
	if rs, ok := store.(*redisstorage.Storage); ok {
		httpLimiter = ratelimit.NewRedisFixedWindow(rs.Client(), httpRateLimitRedisPrefix, cfg.HTTPRequestLimit, cfg.HTTPWindow)
	} else {
		httpLimiter = ratelimit.NewFixedWindow(cfg.HTTPRequestLimit, cfg.HTTPWindow, clk)
	}

	handler := api.NewRouter(api.RouterConfig{
		Logger:    logger,
		Storage:   store,
		WebSocket: wsHandler,
		Limiter:   httpLimiter,
		ClientKey: realtime.ClientIP,
	})

	return &App{
		Storage:     store,
		Clock:       clk,
		Random:      rnd,
		Access:      accessService,
		Attempts:    limiter,
		Coordinator: coordinator,
		Hub:         hub,
		Router:      router,
		Throttle:    throttle,
		WebSocket:   wsHandler,
		HTTPLimiter: httpLimiter,
		Handler:     handler,
		logger:      logger,
		cfg:         cfg,
	}, nil
}

// Config returns the effective configuration after defaults
func (a *App) Config() Config {
	return a.cfg
}

// StartBackground runs the memory janitor and limiter pruners until Close
func (a *App) StartBackground() {
	if a.started {
		return
	}
	a.started = true

	ctx, cancel := context.WithCancel(context.Background())
	a.stopBg = cancel

	if mem, ok := a.Storage.(*memory.Storage); ok {
		go mem.RunJanitor(ctx, a.cfg.JanitorInterval, a.logger.With(slog.String("component", "janitor")))
	}
	go a.Throttle.RunPruner(ctx, a.cfg.JanitorInterval)
	if fw, ok := a.HTTPLimiter.(*ratelimit.FixedWindow); ok {
		go fw.RunPruner(ctx, a.cfg.JanitorInterval)
	}
}

// Close disconnects every client, stops background work and closes storage
func (a *App) Close() error {
	if a.stopBg != nil {
		a.stopBg()
	}
	a.Hub.Close()
	return a.Storage.Close()
}
