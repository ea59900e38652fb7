package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/wallet/internal/config"
	"github.com/roach88/wallet/internal/enforcer"
	"github.com/roach88/wallet/internal/lifecycle"
	"github.com/roach88/wallet/internal/store"
)

// boltOpenTimeout bounds how long OpenBolt waits for the file lock.
const boltOpenTimeout = 2 * time.Second

// app is everything a command needs, opened from config and flags.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	backend store.Backend
	svc     *lifecycle.Service
	closers []func() error
}

// loadConfig reads --config and applies the --db and --backend overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if opts.Backend != "" {
		cfg.Store.Backend = opts.Backend
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, cfg.Validate()
}

// newLogger builds the process logger. Logs go to w so command output on
// stdout stays parseable.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func openBackend(cfg config.StoreConfig) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		st, err := store.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendBolt:
		st, err := store.OpenBolt(cfg.Path, boltOpenTimeout)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendMemory:
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// openApp wires config, logging, storage, the enforcer and the service.
func openApp(ctx context.Context, opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger := newLogger(cfg.Logging, logOut)
	slog.SetDefault(logger)

	backend, err := openBackend(cfg.Store)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	a := &app{cfg: cfg, logger: logger, backend: backend}
	a.closers = append(a.closers, backend.Close)
	logger.Debug("store ready", "backend", cfg.Store.Backend, "path", cfg.Store.Path)

	locker, err := a.locker(ctx)
	if err != nil {
		_ = a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to connect to redis", err)
	}

	enf := enforcer.New(backend,
		enforcer.WithMaxAttempts(cfg.Enforcer.MaxAttempts),
		enforcer.WithBackoff(enforcer.NewBackoff(cfg.Enforcer.BaseDelay, cfg.Enforcer.MaxDelay, cfg.Enforcer.Jitter)),
		enforcer.WithPolicy(cfg.Enforcer.Policy, locker),
		enforcer.WithLogger(logger),
	)
	a.svc = lifecycle.New(enf, lifecycle.WithLogger(logger))
	return a, nil
}

// locker returns the Redis locker for the owner-lock policy when redis.addr is
// set. A nil locker lets the enforcer fall back to an in-process one.
func (a *app) locker(ctx context.Context) (enforcer.Locker, error) {
	if a.cfg.Enforcer.Policy != enforcer.PolicyOwnerLock || a.cfg.Redis.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	a.logger.Debug("redis locker ready", "addr", a.cfg.Redis.Addr)
	return enforcer.NewRedisLocker(rdb,
		enforcer.WithLockTTL(a.cfg.Redis.LockTTL),
		enforcer.WithLockLogger(a.logger),
	), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
