// Package app wires the stores and services of one data directory.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kimhsiao/threemeal/backend/internal/api"
	"github.com/kimhsiao/threemeal/backend/internal/config"
	"github.com/kimhsiao/threemeal/backend/internal/db"
	"github.com/kimhsiao/threemeal/backend/internal/export"
	"github.com/kimhsiao/threemeal/backend/internal/export/scheduler"
	"github.com/kimhsiao/threemeal/backend/internal/live"
	"github.com/kimhsiao/threemeal/backend/internal/logging"
	"github.com/kimhsiao/threemeal/backend/internal/media"
	"github.com/kimhsiao/threemeal/backend/internal/realtime"
)

// thumbnailQueueSize is the number of pending thumbnail jobs.
const thumbnailQueueSize = 64

// App owns every long-lived resource. Create it with Open and release it
// with Close.
type App struct {
	Config      *config.Config
	DB          *db.DB
	Bus         *live.Bus
	FoodCards   *db.FoodCardRepository
	MealRecords *db.MealRecordRepository
	Snapshots   *db.SnapshotRepository
	Images      *media.ImageStore
	Thumbnails  *media.ThumbnailQueue
	Export      *export.Service

	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// OpenDB opens the configured database without migrating it.
func OpenDB(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	return db.Open(ctx, cfg.DatabasePath(), db.Options{
		WAL:         cfg.Database.WAL,
		BusyTimeout: time.Duration(cfg.Database.BusyTimeoutMS) * time.Millisecond,
	})
}

// Open opens the database, applies pending migrations and builds the
// stores. On error everything opened so far is closed again.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	database, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.NewEmbeddedMigrator(database.DB).Up(ctx); err != nil {
		database.Close()
		return nil, err
	}

	images, err := media.NewImageStore(cfg.DataDir(), media.Options{
		MaxBytes:     cfg.Images.MaxBytes,
		Quality:      cfg.Images.Quality,
		MinQuality:   cfg.Images.MinQuality,
		MaxDimension: cfg.Images.MaxDimension,
	})
	if err != nil {
		database.Close()
		return nil, err
	}

	bus := live.NewBus()
	a := &App{
		Config:      cfg,
		DB:          database,
		Bus:         bus,
		FoodCards:   db.NewFoodCardRepository(database, bus),
		MealRecords: db.NewMealRecordRepository(database, bus),
		Snapshots:   db.NewSnapshotRepository(database, bus),
		Images:      images,
		Thumbnails:  media.NewThumbnailQueue(images, thumbnailQueueSize, cfg.Images.Workers),
	}
	a.Export = export.NewService(a.FoodCards, a.MealRecords, a.Snapshots, images)

	// Workers outlive the caller's ctx; Close stops them.
	workerCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.Thumbnails.Start(workerCtx)

	logging.Info("app opened", map[string]interface{}{
		"database": database.Path(),
		"data_dir": cfg.DataDir(),
	})
	return a, nil
}

// Close releases resources in reverse order of creation. It is safe to call
// more than once; later calls return the first result.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.cancel()
		a.Thumbnails.Stop()
		a.Bus.Close()
		a.closeErr = errors.Join(a.FoodCards.Close(), a.MealRecords.Close(), a.Snapshots.Close(), a.DB.Close())
		logging.Info("app closed")
	})
	return a.closeErr
}

// APIServer builds the REST server. hub may be nil.
func (a *App) APIServer(hub *realtime.Hub) *api.Server {
	return api.NewServer(api.Deps{
		Cards:       a.FoodCards,
		Meals:       a.MealRecords,
		Images:      a.Images,
		Thumbnails:  a.Thumbnails,
		ThumbWidth:  a.Config.Images.ThumbnailWidth,
		ThumbHeight: a.Config.Images.ThumbnailHeight,
		Hub:         hub,
		Ping:        a.DB.PingContext,
	})
}

// Scheduler builds the backup scheduler from the export config.
func (a *App) Scheduler(exp export.Exporter, password string) *scheduler.Scheduler {
	return scheduler.NewScheduler(exp, scheduler.Config{
		Interval:       scheduler.ExportInterval(a.Config.Export.Interval),
		RetentionCount: a.Config.Export.Retention,
		IncludeImages:  a.Config.Export.IncludeImages,
		ExportDir:      a.Config.ExportDir(),
		Password:       password,
	})
}
