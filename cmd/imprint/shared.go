package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/mattn/go-colorable"
	"github.com/pkg/errors"

	"github.com/imprintfs/imprint/cmd"
	"github.com/imprintfs/imprint/pkg/config"
	"github.com/imprintfs/imprint/pkg/filesystem"
	"github.com/imprintfs/imprint/pkg/filesystem/locking"
	"github.com/imprintfs/imprint/pkg/logging"
	"github.com/imprintfs/imprint/pkg/must"
	"github.com/imprintfs/imprint/pkg/state"
	"github.com/imprintfs/imprint/pkg/vault"
)

// rootContext returns a context that is cancelled upon receipt of any of
// cmd.TerminationSignals, giving the dedupe and restore orchestrators a
// chance to observe cancellation at the next stage boundary or I/O call
// rather than being killed mid-operation.
func rootContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, cmd.TerminationSignals...)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx, cancel
}

// output is a color-safe standard output writer shared by every subcommand's
// report printing, wrapping os.Stdout with Windows ANSI translation where
// necessary.
var output = colorable.NewColorableStdout()

// environment bundles the resources every mutating subcommand needs: an
// exclusive lock on the state root, the persistent index, and the vault.
// Callers must defer environment.Close.
type environment struct {
	locker *locking.Locker
	store  *state.Store
	vault  *vault.Vault
	config config.Configuration
}

// openEnvironment acquires the state root lock and opens the index and
// vault, loading ambient configuration overrides first.
func openEnvironment(logger *logging.Logger) (*environment, error) {
	cfg, err := config.Load(filesystem.ConfigurationPath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load configuration")
	}

	locker, err := filesystem.AcquireLock()
	if err != nil {
		return nil, errors.Wrap(err, "unable to acquire exclusive access to imprint state (is another instance running?)")
	}

	stateRoot, err := filesystem.Root(true)
	if err != nil {
		locker.Close()
		return nil, errors.Wrap(err, "unable to compute state root")
	}
	databasePath := filepath.Join(stateRoot, filesystem.StateDatabaseName)
	store, err := state.Open(databasePath)
	if err != nil {
		locker.Close()
		return nil, errors.Wrap(err, "unable to open state database")
	}

	storeRoot, err := filesystem.StoreRoot(true)
	if err != nil {
		store.Close()
		locker.Close()
		return nil, errors.Wrap(err, "unable to compute vault root")
	}
	v, err := vault.New(storeRoot, logger.Sublogger("vault"))
	if err != nil {
		store.Close()
		locker.Close()
		return nil, errors.Wrap(err, "unable to open vault")
	}

	return &environment{locker: locker, store: store, vault: v, config: cfg}, nil
}

// Close releases the environment's resources in reverse acquisition order.
func (e *environment) Close() error {
	storeErr := e.store.Close()
	lockErr := e.locker.Unlock()
	closeErr := e.locker.Close()
	if storeErr != nil {
		return storeErr
	}
	if lockErr != nil {
		return lockErr
	}
	return closeErr
}

// mustClose closes env, logging a warning if closing fails, for use in
// subcommand defer statements where cleanup errors aren't actionable.
func mustClose(env *environment, logger *logging.Logger) {
	must.Succeed(env.Close(), "close imprint environment", logger)
}

// rootLogger is the shared root logger for the imprint binary. It writes to
// standard error (so log lines never interleave with report output) at
// LevelInfo, overridable via the IMPRINT_LOG_LEVEL environment variable.
var rootLogger = func() *logging.Logger {
	level := logging.LevelInfo
	if name := os.Getenv("IMPRINT_LOG_LEVEL"); name != "" {
		if parsed, ok := logging.NameToLevel(name); ok {
			level = parsed
		}
	}
	return logging.NewLogger(level, os.Stderr).Sublogger("imprint")
}()

// loadConfiguration loads ambient configuration overrides for commands (such
// as scan) that don't need the full exclusive environment.
func loadConfiguration() (config.Configuration, error) {
	cfg, err := config.Load(filesystem.ConfigurationPath)
	if err != nil {
		return config.Configuration{}, errors.Wrap(err, "unable to load configuration")
	}
	return cfg, nil
}
