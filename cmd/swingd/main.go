// Package main provides the swing timing server binary: the global tick
// scheduler, attack routine, audit pipeline, and operational HTTP surface.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/stormglade/swingtimer/internal/audit"
	"github.com/stormglade/swingtimer/internal/config"
	"github.com/stormglade/swingtimer/internal/game/actor"
	"github.com/stormglade/swingtimer/internal/game/timing"
	"github.com/stormglade/swingtimer/internal/observability"
	"github.com/stormglade/swingtimer/internal/ops"
	"github.com/stormglade/swingtimer/internal/server"
	"github.com/stormglade/swingtimer/internal/storage/postgres"
)

// loggingResolver is the standalone stand-in for the game engine's hit/miss
// collaborator. Embedded deployments replace it with the real combat math.
type loggingResolver struct {
	logger *zap.Logger
}

func (r *loggingResolver) ResolveHit(_ context.Context, attacker, defender *actor.Actor, w *timing.WeaponEntry) error {
	r.logger.Debug("hit resolved",
		zap.String("attacker", attacker.Name),
		zap.String("defender", defender.Name),
		zap.String("weapon", w.ID),
	)
	return nil
}

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting swing timing server",
		zap.Duration("tick_interval", cfg.Scheduler.TickInterval),
		zap.String("provider", cfg.Timing.Provider),
	)

	// Weapon timing table
	table := timing.NewWeaponTable()
	if cfg.Timing.WeaponsDir != "" {
		loaded, err := timing.LoadWeaponDirectory(cfg.Timing.WeaponsDir)
		if err != nil {
			logger.Fatal("loading weapon timing table", zap.Error(err))
		}
		table = loaded
		logger.Info("weapon timing table loaded", zap.Int("entries", table.Len()))
	}

	// Providers
	var active timing.Provider = timing.StatCurveProvider{}
	if cfg.Timing.Provider == "legacy" {
		active = timing.LegacyProvider{}
	}
	providerRef := timing.NewProviderRef(active)

	// Per-actor timer state
	stateOpts := []timing.TimerStateOption{
		timing.WithCancelLogging(cfg.Timing.LogCancellations),
	}
	if cfg.Timing.SharedTimers {
		stateOpts = append(stateOpts, timing.WithSharedTimers())
		logger.Info("shared-timer mode enabled, one cooldown gates all categories")
	}
	states := timing.NewStateTable(logger, stateOpts...)

	// Global tick scheduler
	scheduler := timing.NewScheduler(logger, timing.SchedulerOptions{
		TickInterval:      cfg.Scheduler.TickInterval,
		IdleTimeout:       cfg.Scheduler.IdleTimeout,
		SlowTickThreshold: cfg.Scheduler.SlowTickThreshold,
	})

	// Audit pipeline
	level, err := audit.ParseLevel(cfg.Audit.Level)
	if err != nil {
		logger.Fatal("parsing audit level", zap.Error(err))
	}
	if !cfg.Audit.Enabled {
		level = audit.LevelOff
	}
	recorder := audit.NewRecorder(audit.RecorderConfig{
		Level:           level,
		BufferSize:      cfg.Audit.BufferSize,
		PerActorHistory: cfg.Audit.PerActorHistory,
		PerTickCap:      cfg.Audit.PerTickCap,
	}, logger)

	fileSink, err := audit.NewFileSink(cfg.Audit.Dir)
	if err != nil {
		logger.Fatal("creating audit file sink", zap.Error(err))
	}
	var sink audit.Sink = fileSink

	// Optional Postgres archive alongside the dated NDJSON files.
	if cfg.Database.Enabled {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to audit archive database", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("audit archive connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		sink = teeSink{fileSink, postgres.NewAuditArchive(pool.DB())}
	}

	flusher := audit.NewFlusher(recorder, sink, cfg.Audit.FlushInterval, cfg.Audit.RetentionDays, logger)
	throttle := audit.NewThrottle(recorder, cfg.Audit.ThrottleThreshold, logger)
	scheduler.ObserveTicks(throttle.Observe)
	scheduler.ObserveTicks(recorder.ObserveTickDuration)

	observers := []timing.SwingObserver{recorder}
	var shadow *audit.Shadow
	if cfg.Audit.ShadowMode {
		var reference timing.Provider = timing.LegacyProvider{}
		if cfg.Timing.Provider == "legacy" {
			reference = timing.StatCurveProvider{}
		}
		shadow = audit.NewShadow(reference, audit.ShadowConfig{
			SampleEvery: cfg.Audit.ShadowSampleEvery,
			Threshold:   cfg.Audit.ShadowThreshold,
			HistorySize: cfg.Audit.ShadowHistorySize,
		}, logger)
		observers = append(observers, shadow)
		logger.Info("shadow verification enabled",
			zap.String("reference", reference.Name()),
			zap.Duration("threshold", cfg.Audit.ShadowThreshold),
		)
	}

	// Attack routine
	routine := timing.NewRoutine(scheduler, states, providerRef,
		&loggingResolver{logger: logger}, logger,
		timing.WithObservers(observers...),
	)

	if cfg.Scheduler.GlobalPulse {
		// Standalone builds have no host action path to re-enter; report
		// eligibility so embedders can verify pulse wiring end to end.
		scheduler.SetPulse(func(a *actor.Actor) {
			logger.Debug("pulse fired",
				zap.String("actor_id", a.ID),
				zap.Bool("eligible", routine.CanAttack(a)),
			)
		})
	}

	// Ops HTTP surface
	opsServer := ops.NewServer(cfg.Ops, recorder, flusher, shadow, scheduler, logger)

	lc := server.NewLifecycle(logger)
	lc.Add("scheduler", &server.FuncService{
		StartFn: func() error { return scheduler.Start(ctx) },
		StopFn:  scheduler.Stop,
	})
	lc.Add("audit-flusher", &server.FuncService{
		StartFn: func() error { flusher.Start(ctx); return nil },
		StopFn:  flusher.Stop,
	})
	lc.Add("ops", &server.FuncService{
		StartFn: opsServer.Start,
		StopFn:  opsServer.Stop,
	})

	logger.Info("initialization complete", zap.Duration("elapsed", time.Since(start)))
	if err := lc.Run(ctx); err != nil {
		logger.Fatal("lifecycle error", zap.Error(err))
	}
}

// teeSink fans one flush out to every underlying sink. Any failure fails the
// flush so the buffer is retained and retried against all of them.
type teeSink []audit.Sink

func (t teeSink) Write(entries []audit.Entry) error {
	for _, s := range t {
		if err := s.Write(entries); err != nil {
			return err
		}
	}
	return nil
}
