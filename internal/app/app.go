package app

import (
	"fmt"
	"os"
	"time"

	"savekeeper/internal/archive"
	"savekeeper/internal/catalog"
	"savekeeper/internal/config"
	"savekeeper/internal/keeper"
	"savekeeper/internal/watch"
)

// App is the application layer between the CLI and the keeper service.
// It constructs all dependencies from config, exposes high-level operations
// keyed by entity id, and manages resource lifecycles on Close.
type App struct {
	cfg     *config.Config
	catalog keeper.Catalog
	service *keeper.Service
	manager *watch.Manager
	logFile *os.File
}

// New creates a fully wired App from the given config. The caller must call
// Close when done. onEvent may be nil.
func New(cfg *config.Config, onEvent keeper.EventSink) (*App, error) {
	logger, logFile, err := newLogger(cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	cat, err := catalog.NewCatalogFromConfig(cfg.Catalog)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating catalog: %w", err)
	}

	opts := []keeper.Option{keeper.WithEventSink(onEvent)}
	if cfg.Engine.ManualWaitSecs > 0 {
		opts = append(opts, keeper.WithManualWait(time.Duration(cfg.Engine.ManualWaitSecs)*time.Second))
	}
	if cfg.Engine.MaxSafety > 0 {
		opts = append(opts, keeper.WithMaxSafety(cfg.Engine.MaxSafety))
	}

	log := &slogAdapter{l: logger}
	svc := keeper.NewService(cat, archive.NewOSCopier(), log, keeper.RealClock{}, opts...)

	mgrOpts := []watch.ManagerOption{watch.WithManagerEventSink(onEvent)}
	if cfg.Engine.RetryBudget > 0 {
		mgrOpts = append(mgrOpts, watch.WithRetryBudget(cfg.Engine.RetryBudget))
	}
	mgr := watch.NewManager(svc, log, cfg.Engine.Workers, mgrOpts...)

	a := &App{
		cfg:     cfg,
		catalog: cat,
		service: svc,
		manager: mgr,
		logFile: logFile,
	}

	for _, e := range cfg.Entities {
		profile, err := cfg.Profile(e)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := mgr.AddEntity(profile); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

// StartAll begins watching all enabled entities.
func (a *App) StartAll() { a.manager.StartAll() }

// StopAll stops watching all entities; in-flight operations finish.
func (a *App) StopAll() { a.manager.StopAll() }

// StartWatching starts one entity's watch session.
func (a *App) StartWatching(entityID string) error { return a.manager.StartWatching(entityID) }

// StopWatching stops one entity's watch session.
func (a *App) StopWatching(entityID string) error { return a.manager.StopWatching(entityID) }

// ActiveSessions returns the ids of entities currently being watched.
func (a *App) ActiveSessions() []string { return a.manager.ActiveSessions() }

// Backup creates a manual snapshot for the entity.
func (a *App) Backup(entityID string) (*keeper.Snapshot, error) {
	return a.manager.RequestManualBackup(entityID)
}

// Restore restores the given snapshot. Returns the safety snapshot stamp.
func (a *App) Restore(entityID, stamp string) (string, error) {
	return a.manager.RequestRestore(entityID, stamp)
}

// Snapshots lists the entity's snapshots, newest first.
func (a *App) Snapshots(entityID string) ([]*keeper.Snapshot, error) {
	return a.service.ListSnapshots(entityID)
}

// TotalBackupSize returns the combined size of the entity's snapshots.
func (a *App) TotalBackupSize(entityID string) (int64, error) {
	return a.service.TotalBackupSize(entityID)
}

// Prune forces a retention pass for the entity.
func (a *App) Prune(entityID string) error {
	e, err := a.cfg.FindEntity(entityID)
	if err != nil {
		return err
	}
	profile, err := a.cfg.Profile(e)
	if err != nil {
		return err
	}
	return a.service.Prune(profile)
}

// Close shuts down sessions and workers and releases resources.
func (a *App) Close() error {
	a.manager.Shutdown()

	var firstErr error
	if err := a.catalog.Close(); err != nil {
		firstErr = fmt.Errorf("closing catalog: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
