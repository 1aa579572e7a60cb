// Package app wires configuration, the Fieldwire source, the card renderer,
// the Teams deliverer and the scheduler into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldbridge/internal/card"
	"fieldbridge/internal/config"
	"fieldbridge/internal/eventbus"
	"fieldbridge/internal/fieldwire"
	"fieldbridge/internal/httpx"
	"fieldbridge/internal/pipeline"
	"fieldbridge/internal/runtime/supervisor"
	"fieldbridge/internal/storage"
	"fieldbridge/internal/task/scheduler"
	"fieldbridge/internal/teams"
	logx "fieldbridge/pkg/logx"
	"fieldbridge/pkg/systemd"
)

// Options are the process-level inputs.
type Options struct {
	ConfigPath string
	Lookup     config.LookupFunc
	Secrets    config.SecretResolver
}

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store     storage.Store
	broker    *fieldwire.Broker
	deliverer *teams.Deliverer
	sink      *teams.Deliverer
	pipe      *pipeline.Orchestrator
	sched     *scheduler.Service

	sup *supervisor.Supervisor
}

// New loads and validates the config and builds every component. A missing
// credential or webhook is reported as config.ErrMissingAPIToken or
// config.ErrMissingWebhook.
func New(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath, opts.Lookup, opts.Secrets)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	timeout, err := mapRequestTimeout(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := mapRetryPolicy(cfg)
	if err != nil {
		return nil, err
	}
	pace, err := mapRateLimit(cfg)
	if err != nil {
		return nil, err
	}

	fwLog := log.With(logx.String("comp", "fieldwire"))
	fwHTTP := httpx.NewClient(timeout, policy, fwLog)
	broker := fieldwire.NewBroker(cfg.Fieldwire.APIToken,
		fieldwire.AuthBase(cfg.Fieldwire.Region, cfg.Fieldwire.AuthURL), fwHTTP, fwLog)
	source := fieldwire.NewClient(fieldwire.APIBase(cfg.Fieldwire.Region, cfg.Fieldwire.APIURL), broker, fwHTTP, fwLog)

	teamsLog := log.With(logx.String("comp", "teams"))
	deliverer := teams.New(cfg.Teams.WebhookURL, pace, httpx.NewClient(timeout, policy, teamsLog), teamsLog)
	// The log sink posts through its own silent client: a failing webhook
	// must not log lines that get forwarded to the same webhook.
	sink := teams.New(cfg.Teams.WebhookURL, pace, httpx.NewClient(timeout, policy, logx.Nop()), logx.Nop())
	logSvc.SetSender(sink)

	renderer := card.New(cfg.Card.TemplatePath, log.With(logx.String("comp", "card")))

	var store storage.Store
	if sc, enabled, err := mapStorage(cfg); err != nil {
		return nil, err
	} else if enabled {
		if store, err = storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	bus := eventbus.New()
	pipe := pipeline.New(source, renderer, deliverer, bus, mapPipelineOptions(cfg), log.With(logx.String("comp", "pipeline")))

	sched, err := scheduler.New(mapSchedule(cfg), pipe.RunSafe, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	return &App{
		cfgm:      cfgm,
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		bus:       bus,
		store:     store,
		broker:    broker,
		deliverer: deliverer,
		sink:      sink,
		pipe:      pipe,
		sched:     sched,
	}, nil
}

func (a *App) Logger() logx.Logger { return a.log }

// RunOnce runs a single cycle (dry-run mode). With storage enabled the
// cycle and its deliveries are recorded before it returns.
func (a *App) RunOnce(ctx context.Context) (pipeline.Report, error) {
	a.log.Info("running a single cycle")
	if a.store == nil || a.sup != nil {
		return a.pipe.Run(ctx)
	}

	events, unsub := a.bus.Subscribe(256)
	rec := pipeline.NewRecorder(a.store, a.log.With(logx.String("comp", "audit")))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rec.Run(context.WithoutCancel(ctx), events)
	}()

	rep, err := a.pipe.Run(ctx)
	// Closing the channel lets the recorder finish what is buffered.
	unsub()
	<-done
	return rep, err
}

// TestWebhook posts the connection test message to the Teams webhook.
func (a *App) TestWebhook(ctx context.Context) bool {
	a.log.Info("testing webhook")
	return a.deliverer.TestConnectivity(ctx)
}

// Start launches the scheduler, the config watcher and the audit recorder.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()

	if a.store != nil {
		events, unsub := a.bus.Subscribe(128)
		rec := pipeline.NewRecorder(a.store, a.log.With(logx.String("comp", "audit")))
		a.sup.Go("audit.recorder", func(ctx context.Context) error {
			defer unsub()
			return rec.Run(ctx, events)
		})
	}

	sub := a.cfgm.Subscribe(4)
	a.sup.GoRestart("config.watch", a.cfgm.Watch, 250*time.Millisecond, 30*time.Second)
	a.sup.Go("config.apply", func(ctx context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.applyLoop(ctx, sub)
		return nil
	})
	a.sup.Go("systemd.watchdog", a.watchdog)
	statusEvents, statusUnsub := a.bus.Subscribe(16)
	a.sup.Go("systemd.status", func(ctx context.Context) error {
		defer statusUnsub()
		a.statusLoop(ctx, statusEvents)
		return nil
	})

	if err := a.sched.Start(c); err != nil {
		a.sup.Cancel()
		return err
	}
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("fieldbridge started", logx.String("config", a.cfgm.Path()))
	return nil
}

// watchdog keeps pinging systemd. A failure only disables the pings; it
// never stops polling.
func (a *App) watchdog(ctx context.Context) error {
	if err := systemd.Watchdog(ctx); err != nil {
		a.log.Warn("systemd watchdog disabled", logx.Err(err))
	}
	return nil
}

// statusLoop mirrors the last cycle outcome into the systemd status line.
func (a *App) statusLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != eventbus.CycleFinished {
				continue
			}
			rep, ok := e.Data.(pipeline.Report)
			if !ok {
				continue
			}
			if _, err := systemd.Status(statusLine(rep, a.sched)); err != nil {
				a.log.Debug("systemd status failed", logx.Err(err))
			}
		}
	}
}

func statusLine(rep pipeline.Report, sched *scheduler.Service) string {
	line := fmt.Sprintf("last cycle %s: %d delivered, %d failed",
		rep.FinishedAt.Format(time.RFC3339), rep.Success, rep.Failed)
	if rep.Error != "" {
		line += " (" + rep.Error + ")"
	}
	if next, err := sched.Next(); err == nil {
		line += "; next " + next.Format(time.RFC3339)
	}
	return line
}

func (a *App) applyLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.apply(last, next)
			last = next
		}
	}
}

// apply pushes a reloaded config into the running components.
func (a *App) apply(prev, next *config.Config) {
	a.logs.Apply(mapLogging(next))
	a.pipe.SetOptions(mapPipelineOptions(next))
	if pace, err := mapRateLimit(next); err == nil {
		a.deliverer.SetMinInterval(pace)
		a.sink.SetMinInterval(pace)
	}
	if err := a.sched.Reschedule(mapSchedule(next)); err != nil {
		a.log.Warn("poll schedule rejected; keeping the previous one", logx.Err(err))
	}
	if changed := restartOnly(prev, next); len(changed) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("changed", strings.Join(changed, ",")))
	}
	a.log.Info("config applied")
}

// Done is closed when the app stops or a supervised goroutine fails.
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

// Stop stops triggering, waits for a running cycle and releases resources.
func (a *App) Stop(ctx context.Context) error {
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}
	var errs []error
	if err := a.sched.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	a.log.Info("fieldbridge stopped")
	errs = append(errs, a.logs.Close())
	return errors.Join(errs...)
}
