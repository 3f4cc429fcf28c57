package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ringi/internal/app"
	"ringi/internal/config"
	"ringi/internal/db"
	"ringi/internal/directory"
	"ringi/internal/engine"
	"ringi/internal/events"
	"ringi/internal/logging"
	"ringi/internal/metrics"
	"ringi/internal/migrate"
	"ringi/internal/notify"
)

// loadConfig reads ringi.yml (or --config) and applies flag and RINGI_*
// environment overrides on top.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	workspace := viper.GetString("workspace")
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.Load(workspace)
	}
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg)
	if cfg.Database.Workspace == "" || viper.IsSet("workspace") {
		cfg.Database.Workspace = workspace
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config) {
	strs := map[string]*string{
		"server.addr":       &cfg.Server.Addr,
		"server.base_path":  &cfg.Server.BasePath,
		"server.jwt_secret": &cfg.Server.JWTSecret,
		"database.driver":   &cfg.Database.Driver,
		"database.dsn":      &cfg.Database.DSN,
		"redis.addr":        &cfg.Redis.Addr,
		"redis.password":    &cfg.Redis.Password,
		"log.level":         &cfg.Log.Level,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(viper.GetString(key)); v != "" {
			*dst = v
		}
	}
	bools := map[string]*bool{
		"server.allow_legacy_headers": &cfg.Server.AllowLegacyHeaders,
		"server.dev_auth":             &cfg.Server.DevAuth,
	}
	for key, dst := range bools {
		if viper.IsSet(key) {
			*dst = viper.GetBool(key)
		}
	}
	if viper.IsSet("redis.db") {
		cfg.Redis.DB = viper.GetInt("redis.db")
	}
	if viper.IsSet("database.busy_timeout_ms") {
		cfg.Database.BusyTimeoutMS = viper.GetInt("database.busy_timeout_ms")
	}
}

// runtime is everything a command needs to run engine operations.
type runtime struct {
	cfg     *config.Config
	conn    *db.DB
	redis   *redis.Client
	cache   *directory.Cache
	logger  *zap.Logger
	metrics *metrics.Metrics
	engine  engine.Engine
}

func openRuntime(cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	conn, err := db.Open(db.Config{
		Driver:      cfg.Database.Driver,
		DSN:         cfg.Database.DSN,
		Workspace:   cfg.Database.Workspace,
		BusyTimeout: time.Duration(cfg.Database.BusyTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	m := metrics.New(nil)
	e := engine.New(conn)
	e.Logger = logger
	e.Metrics = m
	e.Events = events.Multi{events.Log{Logger: logger}, events.Metrics{M: m}}
	e.Notifier = notify.Multi{
		notify.Log{Logger: logger},
		notify.Webhook{Hooks: cfg.Notifications.Webhooks},
	}
	rt := &runtime{cfg: cfg, conn: conn, logger: logger, metrics: m}
	if cfg.Redis.Addr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache := directory.NewCache(rt.redis, e.Names, cfg.Redis.TTL())
		cache.Metrics = m
		cache.Logger = logger
		rt.cache = cache
		e.Names = cache
	}
	rt.engine = e
	return rt, nil
}

func (rt *runtime) Close() error {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	_ = rt.logger.Sync()
	return rt.conn.Close()
}

// nameCache returns the cache to invalidate on user changes, if any.
func (rt *runtime) nameCache() app.NameCache {
	if rt.cache == nil {
		return nil
	}
	return rt.cache
}

// withRuntime runs fn against a migrated database. Commands other than serve
// log at warn unless a level is requested explicitly.
func withRuntime(ctx context.Context, fn func(context.Context, *runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !viper.IsSet("log.level") {
		cfg.Log.Level = "warn"
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	rt, err := openRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(logging.WithLogger(ctx, logger), rt)
}

// withEngine also resolves the acting principal from --tenant and --actor-id.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, engine.Principal) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *runtime) error {
		tenant, err := app.ResolveTenant(ctx, viper.GetString("tenant"), rt.engine.Repo)
		if err != nil {
			return err
		}
		actor := strings.TrimSpace(viper.GetString("actor-id"))
		if actor == "" {
			return fmt.Errorf("--actor-id required")
		}
		return fn(ctx, rt.engine, engine.Principal{TenantID: tenant.ID, UserID: actor})
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
