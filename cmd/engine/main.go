// Command engine runs the alerting and escalation engine: periodic detection
// cycles, notification dispatch, digest flushes, audit publishing and the
// operator HTTP surface, all in one binary.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vigil/internal/detect"
	dirstore "vigil/internal/directory/store"
	"vigil/internal/dispatch"
	"vigil/internal/dispatch/channel"
	"vigil/internal/dispatch/deadletter"
	"vigil/internal/escalate"
	"vigil/internal/escalate/actionlink"
	"vigil/internal/escalate/history"
	"vigil/internal/jobs"
	jobstore "vigil/internal/jobs/store"
	"vigil/internal/notify/digest"
	"vigil/internal/notify/ratelimit"
	notifystore "vigil/internal/notify/store"
	"vigil/internal/platform/config"
	"vigil/internal/platform/httpserver"
	"vigil/internal/platform/logger"
	"vigil/internal/platform/metrics"
	"vigil/internal/platform/postgres"
	platformredis "vigil/internal/platform/redis"
	recordstore "vigil/internal/records/store"
	httptransport "vigil/internal/transport/http"
	"vigil/pkg/domain"
	"vigil/pkg/platform/audit"
	auditpublisher "vigil/pkg/platform/audit/publisher"
	auditstore "vigil/pkg/platform/audit/store/postgres"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("engine exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("engine stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New()

	// Stores.
	records := recordstore.NewPostgres(db)
	users := dirstore.NewPostgres(db)
	notifications := notifystore.NewPostgres(db)
	deadLetters := deadletter.NewPostgres(db)
	hist := history.NewPostgres(db)
	runs := jobstore.NewPostgres(db)
	auditOutbox := auditstore.New(db)
	auditor := audit.NewStorePublisher(auditOutbox)

	// Services.
	links, err := actionlink.NewSigner(
		[]byte(cfg.Engine.ActionLinkSigningKey),
		cfg.Engine.ActionLinkBaseURL,
		cfg.Engine.ActionLinkTTL,
	)
	if err != nil {
		return err
	}

	limiter, err := ratelimit.New(notifications, ratelimit.Config{
		RenotifyCooldown: cfg.Engine.RenotifyCooldown,
		VolumeCap:        cfg.Engine.VolumeCap,
		VolumeWindow:     cfg.Engine.VolumeWindow,
	}, ratelimit.WithLogger(log))
	if err != nil {
		return err
	}

	resolver, err := escalate.NewResolver(users, cfg.Engine.MaxRecipientsPerLevel)
	if err != nil {
		return err
	}

	emailChannel := channel.NewEmail(cfg.SMTP)

	digestWindow, err := digest.ParseWindow(cfg.Engine.DigestWindow)
	if err != nil {
		return err
	}
	batcher, err := digest.New(notifications, emailChannel, digest.Config{
		Window:    digestWindow,
		FlushHour: cfg.Engine.DigestFlushHour,
	}, digest.WithLogger(log), digest.WithMetrics(m), digest.WithAuditPublisher(auditor))
	if err != nil {
		return err
	}

	detectors := []detect.Detector{
		detect.NewDeadlineDetector(records, cfg.Engine.DeadlineWindowsDays),
		detect.NewReviewDetector(records, cfg.Engine.EscalationThresholdsHours),
		detect.NewLicenceExpiryDetector(records, cfg.Engine.ExpiryTiersDays),
		detect.NewTestExpiryDetector(records, cfg.Engine.ExpiryTiersDays),
		detect.NewEvidenceGapDetector(records, records, cfg.Engine.EvidenceHorizonDays),
	}
	cycle, err := escalate.New(
		detectors, records, records, resolver, limiter, notifications, batcher,
		hist, links, cfg.Engine.EscalationThresholdsHours,
		escalate.WithLogger(log), escalate.WithMetrics(m), escalate.WithAuditPublisher(auditor),
	)
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.New(notifications, deadLetters, emailChannel, dispatch.Config{
		MaxRetries:      cfg.Engine.MaxRetries,
		Backoff:         dispatch.Backoff{Base: cfg.Engine.BackoffBase, Cap: cfg.Engine.BackoffCap},
		DeliveryTimeout: cfg.Engine.DeliveryTimeout,
		BatchSize:       cfg.Engine.DispatchBatch,
		ClaimLease:      2 * cfg.Engine.DeliveryTimeout,
	}, dispatch.WithLogger(log), dispatch.WithMetrics(m), dispatch.WithAuditPublisher(auditor))
	if err != nil {
		return err
	}

	// Periodic jobs.
	jobList := []jobs.Job{
		{
			Name:     "detect-escalate",
			Interval: cfg.Engine.DetectInterval,
			Fn: func(ctx context.Context) error {
				return cycle.Run(ctx, domain.Scope{})
			},
		},
		{
			Name:     "dispatch",
			Interval: cfg.Engine.DispatchInterval,
			Fn: func(ctx context.Context) error {
				_, err := dispatcher.RunOnce(ctx)
				return err
			},
		},
		{
			Name:     "digest-flush",
			Interval: time.Hour,
			Fn: func(ctx context.Context) error {
				_, err := batcher.FlushDue(ctx)
				return err
			},
		},
	}
	runnerOpts := []jobs.Option{jobs.WithLogger(log), jobs.WithMetrics(m)}
	if redisClient != nil {
		runnerOpts = append(runnerOpts, jobs.WithLease(redisClient.Client))
	}
	runner, err := jobs.New(runs, jobList, runnerOpts...)
	if err != nil {
		return err
	}

	// HTTP surface.
	healthChecks := []func(ctx context.Context) error{db.PingContext}
	if redisClient != nil {
		healthChecks = append(healthChecks, redisClient.Health)
	}
	handler := httptransport.NewHandler(
		notifications, deadLetters, runs, links,
		cfg.Engine.StaleRunThreshold, log, healthChecks...,
	)
	srv := httpserver.New(cfg.HTTP.Addr, httptransport.NewRouter(handler, log))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return runner.Run(gctx) })

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := auditpublisher.New(gctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic,
			auditOutbox, auditpublisher.WithLogger(log))
		if err != nil {
			return err
		}
		g.Go(func() error { return publisher.Run(gctx) })
	} else {
		log.Info("kafka not configured, audit outbox will not be drained")
	}

	g.Go(func() error {
		log.Info("engine listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
