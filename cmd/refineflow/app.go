package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/refineflow/orchestrator/internal/budget"
	"github.com/refineflow/orchestrator/internal/db"
	"github.com/refineflow/orchestrator/internal/lease"
	"github.com/refineflow/orchestrator/internal/llm"
	"github.com/refineflow/orchestrator/internal/models"
	"github.com/refineflow/orchestrator/internal/orchestrator"
	"github.com/refineflow/orchestrator/internal/pricing"
	"github.com/refineflow/orchestrator/internal/ratecontrol"
	"github.com/refineflow/orchestrator/internal/state"
	"github.com/refineflow/orchestrator/internal/store"
	"github.com/refineflow/orchestrator/internal/templates"
	"github.com/refineflow/orchestrator/internal/tracing"
)

// modelsConfigPath returns the configured models file if it exists. The
// default path is optional; the built-in catalog covers its absence.
func (c *cli) modelsConfigPath() string {
	p := c.settings.ModelsConfigPath
	if p == "" {
		return ""
	}
	if _, err := os.Stat(p); err != nil {
		c.logger.Debug("Models config not found, using built-in catalog", zap.String("path", p))
		return ""
	}
	return p
}

func (c *cli) registry() (*models.Registry, error) {
	return models.LoadRegistry(c.modelsConfigPath())
}

// composer loads the embedded templates, or templates_dir when set. With
// templates_watch the returned stop function ends the hot reload.
func (c *cli) composer(ctx context.Context) (*templates.Composer, func(), error) {
	noop := func() {}
	if c.settings.TemplatesDir == "" {
		comp, err := templates.NewDefaultComposer()
		return comp, noop, err
	}
	reg, err := templates.LoadRegistry(c.settings.TemplatesDir)
	if err != nil {
		return nil, noop, err
	}
	comp, err := templates.NewComposer(reg)
	if err != nil {
		return nil, noop, err
	}
	if !c.settings.TemplatesWatch {
		return comp, noop, nil
	}
	w, err := templates.NewWatcher(c.settings.TemplatesDir, comp, c.logger)
	if err != nil {
		return nil, noop, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, noop, err
	}
	return comp, func() { _ = w.Stop() }, nil
}

// provider builds the configured adapter behind a guard sized for model.
func (c *cli) provider(ctx context.Context, profile models.ModelProfile) (llm.Provider, error) {
	p, err := llm.New(ctx, llm.Options{
		Name:    c.settings.Provider.Name,
		APIKey:  c.settings.Provider.APIKey(),
		BaseURL: c.settings.Provider.BaseURL,
	}, c.logger)
	if err != nil {
		return nil, err
	}
	limits, err := ratecontrol.Load(c.modelsConfigPath())
	if err != nil {
		return nil, err
	}
	return llm.NewGuard(p, limits.LimitFor(profile.Provider, profile.ID), c.logger), nil
}

// resources owns everything a run needs and releases it in Close.
type resources struct {
	runner   *orchestrator.ActivityRunner
	store    store.StateStore
	composer *templates.Composer
	records  *db.RecordWriter
	redis    *redis.Client
	closers  []func()
}

func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// openResources wires the store, lease and record sinks. Without a model
// id no provider is built and the runner can only finalize.
func (c *cli) openResources(ctx context.Context, modelID string) (res *resources, err error) {
	res = &resources{}
	defer func() {
		if err != nil {
			res.Close()
		}
	}()

	shutdown, err := tracing.Initialize(c.settings.Tracing, c.logger)
	if err != nil {
		return nil, err
	}
	res.closers = append(res.closers, func() { _ = shutdown(context.Background()) })

	var client *redis.Client
	if c.settings.Store.Backend == "redis" || c.settings.Lock.Backend == "redis" {
		client = redis.NewClient(&redis.Options{
			Addr:     c.settings.Redis.Addr,
			Password: c.settings.Redis.Password,
			DB:       c.settings.Redis.DB,
		})
		res.redis = client
		res.closers = append(res.closers, func() { _ = client.Close() })
	}

	if c.settings.Store.Backend == "redis" {
		rs := store.NewRedisStore(client, c.settings.Redis.KeyPrefix, 0, c.logger)
		if err := rs.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis state store: %w", err)
		}
		res.store = rs
	} else {
		res.store = store.NewMemoryStore()
	}

	var locker lease.Locker = lease.NewLocalLocker()
	if c.settings.Lock.Backend == "redis" {
		locker = lease.NewRedisLocker(client, c.settings.Redis.KeyPrefix, c.settings.Lock.TTL, c.logger)
	}

	sinks := orchestrator.MultiSink{orchestrator.LogSink{Logger: c.logger}, orchestrator.MetricsSink{}}
	if c.settings.Records.Enabled() {
		w, err := c.openRecords(ctx)
		if err != nil {
			return nil, err
		}
		res.records = w
		res.closers = append(res.closers, func() { _ = w.Close() })
		sinks = append(sinks, orchestrator.RecordSink{Writer: w, Logger: c.logger})
	}

	if modelID == "" {
		res.runner = orchestrator.NewActivityRunner(nil, res.store, locker, nil, c.logger)
		return res, nil
	}

	reg, err := c.registry()
	if err != nil {
		return nil, err
	}
	profile, _ := reg.Lookup(modelID)

	comp, stopWatch, err := c.composer(ctx)
	if err != nil {
		return nil, err
	}
	res.composer = comp
	res.closers = append(res.closers, stopWatch)

	prices, err := pricing.Load(c.modelsConfigPath())
	if err != nil {
		return nil, err
	}

	provider, err := c.provider(ctx, profile)
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Registry:    reg,
		Calculator:  budget.NewCalculator(nil, c.logger),
		Composer:    comp,
		Provider:    provider,
		Pricing:     prices,
		Sink:        sinks,
		Logger:      c.logger,
		Temperature: c.settings.Provider.Temperature,
		Timeout:     c.settings.Provider.Timeout,
	})
	if err != nil {
		return nil, err
	}
	res.runner = orchestrator.NewActivityRunner(orch, res.store, locker, nil, c.logger)
	return res, nil
}

func (c *cli) openRecords(ctx context.Context) (*db.RecordWriter, error) {
	return db.Open(ctx, db.Config{
		Driver:    c.settings.Records.Driver,
		DSN:       c.settings.Records.DSN,
		Workers:   c.settings.Records.Workers,
		QueueSize: c.settings.Records.QueueSize,
	}, c.logger)
}

// loadStateFile seeds st with the state stored in path, if the file exists.
func loadStateFile(ctx context.Context, st store.StateStore, path, activityID string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var s state.ActivityState
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("state file %s: %w", path, err)
	}
	if s.ActivityID == "" {
		s.ActivityID = activityID
	}
	if s.ActivityID != activityID {
		return fmt.Errorf("state file %s belongs to activity %q, not %q", path, s.ActivityID, activityID)
	}
	return st.Save(ctx, s)
}

func writeStateFile(path string, s state.ActivityState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
