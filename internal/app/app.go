// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wisdombot/internal/admission"
	"wisdombot/internal/bot"
	"wisdombot/internal/broadcast"
	"wisdombot/internal/config"
	"wisdombot/internal/observability"
	rtsup "wisdombot/internal/runtime/supervisor"
	"wisdombot/internal/storage"
	"wisdombot/internal/transport"
	"wisdombot/internal/transport/telegram"
	logx "wisdombot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter transport.Adapter
	metrics *observability.Metrics
	http    *observability.Server

	admission  *admission.Workflow
	broadcast  *broadcast.Scheduler
	dispatcher *bot.Dispatcher
	broadcasts bool

	updates chan transport.Update
}

// New loads the config at cfgPath and connects to Telegram.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutDuration(),
	}, logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	return NewWithAdapter(cfgm, ad)
}

// NewWithAdapter builds the app around an already constructed adapter.
// cfgm must have been loaded.
func NewWithAdapter(cfgm *config.Manager, ad transport.Adapter) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	logSvc, log := logx.New(cfg.Logging.Logx())
	comp := func(name string) logx.Logger { return log.With(logx.String("comp", name)) }

	store, err := storage.Open(mapStorageConfig(cfg), comp("storage"))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	owner := storage.NewOwner(store)

	cat, err := loadCatalog(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	metrics := observability.NewMetrics()

	adm := admission.New(mapAdmissionConfig(cfg), owner, ad,
		admission.WithLogger(comp("admission")),
		admission.WithMetrics(metrics),
	)
	sched, err := broadcast.New(mapBroadcastConfig(cfg), owner, ad, cat,
		broadcast.WithLogger(comp("broadcast")),
		broadcast.WithMetrics(metrics),
	)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	router := bot.New(adm, owner, ad, cat, comp("bot"), metrics)
	blog := comp("bot")
	handler := bot.Chain(router.Handle,
		bot.Recover(blog),
		bot.RequestLog(blog),
		bot.WithTimeout(cfg.Telegram.HandlerTimeoutDuration()),
	)

	log.Info("initialized",
		logx.String("storage", mapStorageConfig(cfg).Driver),
		logx.Int("quotes", cat.Len()),
		logx.Duration("challenge_deadline", cfg.Admission.DeadlineDuration()),
		logx.Bool("broadcast", cfg.Broadcast.IsEnabled()),
	)

	return &App{
		cfgm:       cfgm,
		log:        comp("app"),
		logs:       logSvc,
		store:      store,
		adapter:    ad,
		metrics:    metrics,
		http:       observability.NewServer(mapObservabilityConfig(cfg), metrics, comp("http")),
		admission:  adm,
		broadcast:  sched,
		dispatcher: bot.NewDispatcher(handler, comp("dispatcher")),
		broadcasts: cfg.Broadcast.IsEnabled(),
		updates:    make(chan transport.Update, cfg.Telegram.UpdateBufferSize()),
	}, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()
	a.metrics.TrackGoroutines(func() int64 { return a.sup.Counters().Active })

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		_, err := loadCatalog(c)
		return err
	})

	// pending challenges left by the previous run are settled before new
	// joins can arrive
	if err := a.admission.Start(runCtx); err != nil {
		return err
	}
	if err := a.http.Start(a.sup); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.dispatcher.Run(c, a.updates)
	})
	if a.broadcasts {
		a.sup.GoRestart("broadcast", a.broadcast.Run,
			rtsup.WithRestartBackoff(time.Second, time.Minute),
		)
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		applied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(applied, next)
				applied = next
			}
		}
	})

	notifySystemd(a.log, sdReady)
	a.log.Info("started")
	return nil
}

func (a *App) applyConfig(prev, next *config.Config) {
	change := config.Diff(prev, next)
	if len(change.Sections) == 0 {
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(change.Sections, ","))}, change.Attrs...)
	a.log.Info("config change", fields...)

	if change.Has("logging") {
		a.logs.Apply(next.Logging.Logx())
	}
	if change.NeedsRestart() {
		a.log.Warn("some changes take effect after restart")
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	notifySystemd(a.log, sdStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// stop intake first so nothing new reaches the workflows
	a.step(ctx, "adapter", 3*time.Second, a.adapter.Stop)
	a.sup.Cancel()

	a.step(ctx, "admission", 2*time.Second, a.admission.Stop)
	a.step(ctx, "http", time.Second, func(c context.Context) error {
		a.http.Stop(c)
		return nil
	})
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by limit (and by ctx); a step that
// overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-sctx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
