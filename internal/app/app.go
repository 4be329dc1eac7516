// Package app wires adbot together: config, logging, storage, permissions,
// the cooldown store, the ad coordinator, and the Telegram transport.
package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"adbot/internal/ads"
	"adbot/internal/config"
	"adbot/internal/cooldown"
	"adbot/internal/eventbus"
	"adbot/internal/pending"
	"adbot/internal/perm"
	"adbot/internal/runtime/supervisor"
	"adbot/internal/storage"
	"adbot/internal/transport"
	tgadapter "adbot/internal/transport/telegram/adapter"
	logx "adbot/pkg/logx"
)

type App struct {
	cm      *config.ConfigManager
	logs    *logx.Service
	log     logx.Logger
	adapter transport.Adapter
	store   storage.Store
	perms   *perm.Switcher
	cool    *cooldown.Store
	ads     *ads.Service
	bus     eventbus.Bus

	sup     *supervisor.Supervisor
	cron    *cron.Cron
	updates chan transport.Update
}

func New(configPath string) (*App, error) {
	cm := config.NewConfigManager(configPath)
	cfg, err := cm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Rules and settings only fail on bad durations, which Validate already
	// rejects; checking again keeps the builders honest.
	rules, err := buildRules(cfg)
	if err != nil {
		return nil, err
	}
	settings, err := buildSettings(cfg)
	if err != nil {
		return nil, err
	}
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return nil, err
	}
	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}

	// The adapter starts with a bootstrap console logger; the full log service
	// needs the adapter for its Telegram sink.
	boot := logx.NewConsole(cfg.Logging.Level)
	adapter, err := tgadapter.New(tgadapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, boot.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(buildLogConfig(cfg), adapter)
	if id := logChatID(cfg.Telegram.GroupLog); id != 0 {
		logs.SetTelegramTarget(id, cfg.Logging.Telegram.ThreadID)
	}
	cm.SetLogger(root.With(logx.String("comp", "config")))
	cm.SetValidator(func(_ context.Context, c *config.Config) error { return c.Validate() })

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	perms := perm.NewSwitcher(buildTable(cfg))
	cool := cooldown.New(rules, store, perms, cfg.Storage.QueueSize, root.With(logx.String("comp", "cooldown")))
	bus := eventbus.New()
	svc := ads.NewService(adapter, cool, pending.NewRegistry(), store, perms, bus, settings,
		root.With(logx.String("comp", "ads")))

	return &App{
		cm:      cm,
		logs:    logs,
		log:     root.With(logx.String("comp", "app")),
		adapter: adapter,
		store:   store,
		perms:   perms,
		cool:    cool,
		ads:     svc,
		bus:     bus,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	a.cool.Start()

	a.updates = make(chan transport.Update, 256)
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go0("updates.dispatch", a.dispatchLoop)
	a.sup.Go("config.watch", a.cm.Watch)
	a.sup.Go0("config.apply", a.reloadLoop)
	a.sup.Go0("events.log", a.eventLoop)

	a.startFlushSchedule()

	a.log.Info("adbot started")
	return nil
}

// startFlushSchedule arms the periodic safety flush of the cooldown cache.
// The write-behind queue already persists saves; this catches entries whose
// queued save was rejected or lost to a crash-adjacent failure.
func (a *App) startFlushSchedule() {
	spec := a.cm.Get().Storage.FlushSchedule
	if spec == "" {
		return
	}
	a.cron = cron.New()
	_, err := a.cron.AddFunc(spec, func() {
		fctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		a.cool.FlushAll(fctx)
	})
	if err != nil {
		a.log.Warn("invalid flush schedule; periodic flush disabled",
			logx.String("spec", spec), logx.Err(err))
		a.cron = nil
		return
	}
	a.cron.Start()
	a.log.Debug("flush schedule armed", logx.String("spec", spec))
}

// Stop shuts the app down in dependency order: transport first so no new
// work arrives, then the loops, then the cooldown store (drain + flush),
// and the database last.
func (a *App) Stop(ctx context.Context) {
	a.log.Info("shutting down")

	_ = a.adapter.Stop(ctx)
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			a.log.Warn("background loops did not stop cleanly", logx.Err(err))
		}
	}

	if a.cron != nil {
		select {
		case <-a.cron.Stop().Done():
		case <-ctx.Done():
		}
	}

	a.cool.Stop(ctx)
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}

	a.log.Info("shutdown complete")
	_ = a.logs.Close()
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cm.Subscribe(1)
	defer a.cm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(cfg)
		}
	}
}

// applyConfig applies a validated reload. Each layer swaps its snapshot
// wholesale; in-flight operations finish on the old one. The Telegram token
// and poll timeout only apply on restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(buildLogConfig(cfg))
	if id := logChatID(cfg.Telegram.GroupLog); id != 0 {
		a.logs.SetTelegramTarget(id, cfg.Logging.Telegram.ThreadID)
	}

	a.perms.Swap(buildTable(cfg))

	if rules, err := buildRules(cfg); err == nil {
		a.cool.SetRules(rules)
	} else {
		a.log.Warn("cooldown rules not applied", logx.Err(err))
	}
	if settings, err := buildSettings(cfg); err == nil {
		a.ads.UpdateSettings(settings)
	} else {
		a.log.Warn("ad settings not applied", logx.Err(err))
	}

	a.log.Info("runtime config applied")
}

func (a *App) eventLoop(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}
