package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
	"github.com/eliteGoblin/focusd/site_gate/internal/infra"
	"github.com/eliteGoblin/focusd/site_gate/internal/usecase"
)

// Store backends selectable with --store.
const (
	storeEncrypted = "encrypted"
	storeFile      = "file"
	storeMemory    = "memory"
)

// cliEnv is what every command needs: paths, a logger, the store and an
// engine refreshed from it.
type cliEnv struct {
	mode   *infra.ExecModeConfig
	logger *zap.Logger
	store  domain.Store
	engine *usecase.Engine
}

func openEnv(ctx context.Context) (*cliEnv, error) {
	mode := infra.DetectExecMode()
	if dataDir != "" {
		mode.DataDir = dataDir
	}
	logger := createLogger(mode, logLevel)

	store, err := openStore(mode, storeBackend)
	if err != nil {
		logger.Error("failed to open store", zap.String("backend", storeBackend), zap.Error(err))
		_ = logger.Sync()
		return nil, err
	}

	engine := usecase.NewEngine(store, infra.SystemClock{}, logger)
	if err := engine.Refresh(ctx); err != nil {
		_ = store.Close()
		_ = logger.Sync()
		return nil, err
	}

	return &cliEnv{mode: mode, logger: logger, store: store, engine: engine}, nil
}

func (e *cliEnv) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("failed to close store", zap.Error(err))
	}
	_ = e.logger.Sync()
}

func openStore(mode *infra.ExecModeConfig, backend string) (domain.Store, error) {
	switch backend {
	case storeEncrypted:
		key, err := infra.EnsureKey(infra.KeyProviderFor(mode.DataDir))
		if err != nil {
			return nil, fmt.Errorf("failed to get store key: %w", err)
		}
		store, err := infra.NewEncryptedStore(mode.DataDir, key, infra.DefaultPollInterval)
		if err != nil {
			return nil, err
		}
		return store, nil
	case storeFile:
		store, err := infra.NewFileStore(mode.StoreFilePath())
		if err != nil {
			return nil, err
		}
		return store, nil
	case storeMemory:
		return infra.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want %s, %s or %s)",
			backend, storeEncrypted, storeFile, storeMemory)
	}
}
