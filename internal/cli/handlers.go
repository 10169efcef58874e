package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BartekS5/elt/internal/config"
	"github.com/BartekS5/elt/internal/dag"
	"github.com/BartekS5/elt/internal/etl"
	"github.com/BartekS5/elt/internal/history"
	"github.com/BartekS5/elt/internal/metrics"
	"github.com/BartekS5/elt/internal/storage"
	"github.com/BartekS5/elt/internal/transform"
	"github.com/BartekS5/elt/internal/warehouse"
	"github.com/BartekS5/elt/internal/watermark"
	"github.com/BartekS5/elt/pkg/database"
	"github.com/BartekS5/elt/pkg/logger"
)

// objectStore is what the stager writes to and the warehouse reads from.
type objectStore interface {
	etl.ObjectStore
	URI(path string) string
}

// app holds the components of one pipeline built from config.
type app struct {
	cfg      *config.Config
	pipeline *etl.Pipeline
	history  *history.Store
	closers  []func() error
}

func (a *app) onClose(f func() error) {
	a.closers = append(a.closers, f)
}

// Close releases every component in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newApp connects the configured source, object store, warehouse, watermark
// store and history, and assembles the pipeline. registry may be nil.
func newApp(ctx context.Context, cfg *config.Config, registry prometheus.Registerer) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// The source is opened without a ping so that an unreachable source
	// fails the run as SourceUnavailable and goes through the retry policy.
	src, dialect, err := database.OpenSQL(cfg.Source.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url: %w", err)
	}
	a.onClose(src.Close)

	store, err := openObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	wh, err := openWarehouse(ctx, cfg, store)
	if err != nil {
		return nil, err
	}
	a.onClose(wh.Close)

	marks, err := a.openWatermarks(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.History.Path != "" {
		a.history, err = history.Open(ctx, cfg.History.Path)
		if err != nil {
			return nil, err
		}
		a.onClose(a.history.Close)
	}

	graph, err := transform.BuildGraph(cfg.Steps, transform.Env{
		Warehouse: wh,
		Workdir:   cfg.DBT.Workdir,
		Vars:      cfg.DBT.Env,
	})
	if err != nil {
		return nil, err
	}

	a.pipeline = &etl.Pipeline{
		ID:         cfg.PipelineID,
		Entities:   cfg.Entities,
		Location:   cfg.Location(),
		StartDate:  cfg.Start(),
		Source:     etl.NewSQLExtractor(src, dialect, cfg.Location()),
		Stager:     &etl.Stager{Store: store, ScratchDir: cfg.ScratchDir, Prefix: cfg.Storage.Prefix},
		Loader:     &etl.Loader{Warehouse: wh, Dataset: cfg.Warehouse.Dataset},
		Cleanup:    &etl.Cleanup{Dir: cfg.ScratchDir},
		Watermarks: marks,
		Graph:      graph,
		Executor: &dag.Executor{
			Concurrency:    cfg.Concurrency,
			DefaultTimeout: cfg.StepTimeout,
		},
		Retries:       cfg.Source.Retries,
		RetryInterval: cfg.Source.RetryInterval,
	}
	if a.history != nil {
		a.pipeline.History = a.history
	}
	if registry != nil {
		a.pipeline.Observer = metrics.New(registry)
	}

	logger.Info("pipeline assembled",
		"pipeline", cfg.PipelineID,
		"source", dialect,
		"objects", store.URI(cfg.Storage.Prefix),
		"warehouse", cfg.Warehouse.Driver,
		"watermark", cfg.Watermark.Driver,
		"steps", graph.Len())
	return a, nil
}

func openObjectStore(ctx context.Context, cfg *config.Config) (objectStore, error) {
	s := cfg.Storage
	switch s.Driver {
	case storage.DriverLocal:
		return storage.NewLocalStore(s.Root)
	case storage.DriverS3:
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    s.Bucket,
			Region:    s.Region,
			Endpoint:  s.Endpoint,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			PathStyle: s.PathStyle,
		})
	case storage.DriverMinio:
		return storage.NewMinioStore(storage.MinioOptions{
			Endpoint:  s.Endpoint,
			Bucket:    s.Bucket,
			Region:    s.Region,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			UseSSL:    s.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", s.Driver)
	}
}

func openWarehouse(ctx context.Context, cfg *config.Config, objects warehouse.ObjectReader) (etl.Warehouse, error) {
	switch cfg.Warehouse.Driver {
	case warehouse.DriverSQLite:
		return warehouse.OpenSQLite(ctx, cfg.Warehouse.URL, objects)
	case warehouse.DriverPostgres:
		return warehouse.OpenPostgres(ctx, cfg.Warehouse.URL, objects)
	default:
		return nil, fmt.Errorf("unknown warehouse driver %q", cfg.Warehouse.Driver)
	}
}

func (a *app) openWatermarks(ctx context.Context, cfg *config.Config) (etl.WatermarkStore, error) {
	w := cfg.Watermark
	switch w.Driver {
	case config.WatermarkFile:
		return watermark.NewFileStore(filepath.Clean(w.Path), cfg.Location()), nil
	case config.WatermarkMongo:
		client, err := database.ConnectMongo(ctx, w.URL)
		if err != nil {
			return nil, err
		}
		a.onClose(func() error {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(dctx)
		})
		return watermark.NewMongoStore(client, w.Database, w.Collection, cfg.Location()), nil
	case config.WatermarkRedis:
		client, err := database.ConnectRedis(ctx, w.URL)
		if err != nil {
			return nil, err
		}
		a.onClose(client.Close)
		return watermark.NewRedisStore(client, w.KeyPrefix, cfg.Location()), nil
	default:
		return nil, fmt.Errorf("unknown watermark driver %q", w.Driver)
	}
}

// openWatermarkStore opens only the watermark store, for the watermark
// commands.
func openWatermarkStore(ctx context.Context, cfg *config.Config) (etl.WatermarkStore, func() error, error) {
	a := &app{cfg: cfg}
	store, err := a.openWatermarks(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	return store, a.Close, nil
}
