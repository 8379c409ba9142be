package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/analytics"
	analyticsrepo "github.com/ovaphlow/pitchfork/service-attendance/internal/analytics/repo"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/attendance"
	attendancerepo "github.com/ovaphlow/pitchfork/service-attendance/internal/attendance/repo"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/event"
	eventrepo "github.com/ovaphlow/pitchfork/service-attendance/internal/event/repo"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/operator"
	participantrepo "github.com/ovaphlow/pitchfork/service-attendance/internal/participant/repo"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/presence"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/router"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/scantoken"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/scheduler"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/database"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/utilities"
)

func main() {
	// best-effort: real env wins when no .env exists
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infof("starting %s", utilities.DefaultServiceName)

	dbCfg := database.ConfigFromEnv()
	sqlDB, err := database.Connect(dbCfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlDB.Close()
	if dbCfg.AutoMigrate {
		if err := database.Migrate(sqlDB); err != nil {
			sugar.Fatalf("db migrate: %v", err)
		}
	}
	db := database.Wrap(sqlDB)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker, closeTracker, err := presence.Open(ctx, presence.ConfigFromEnv())
	if err != nil {
		sugar.Warnw("redis unavailable, presence cache disabled", utilities.FieldError, err)
		tracker, closeTracker = presence.Nop{}, func() error { return nil }
	}
	defer closeTracker()

	verifier, err := scantoken.NewVerifier(scantoken.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("scan token verifier: %v", err)
	}
	resolver := operator.NewDBResolver(db, operator.CacheConfigFromEnv())
	auth, err := operator.NewAuthenticator(operator.AuthConfigFromEnv(), resolver)
	if err != nil {
		sugar.Fatalf("operator authenticator: %v", err)
	}

	scans := attendance.NewService(db, verifier, participantrepo.NewParticipantRepo(db), tracker, attendance.ConfigFromEnv(), sugar)
	lifecycle := event.NewService(db, tracker, event.ConfigFromEnv(), sugar)
	reads := analytics.NewService(analyticsrepo.NewAnalyticsRepo(db), tracker, sugar)

	jobs, err := scheduler.New(scheduler.ConfigFromEnv(), scheduler.Deps{
		Activator: lifecycle,
		Closer:    lifecycle,
		Drift:     attendance.NewReconciler(db, sugar),
		Events:    eventrepo.NewEventRepo(db),
		Ledger:    attendancerepo.NewLedgerRepo(db),
		Presence:  tracker,
	}, sugar)
	if err != nil {
		sugar.Fatalf("scheduler: %v", err)
	}
	jobs.Start()

	handler := router.RegisterRoutes(sugar, router.Handlers{
		Scan:      attendance.NewHandler(scans, sugar),
		Event:     event.NewHandler(lifecycle, sugar),
		Analytics: analytics.NewHandler(reads, sugar),
		Operator:  auth.Middleware(sugar),
	})
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running", "addr", addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	select {
	case <-jobs.Stop().Done():
	case <-doneCtx.Done():
		sugar.Warn("scheduled jobs still running at exit")
	}

	sugar.Info("goodbye")
}
