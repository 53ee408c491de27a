package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tasktracker/api"
	"tasktracker/config"
	"tasktracker/scheduler"
	"tasktracker/service"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled retention sweep",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger()

	b, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	auth, closeAuth, err := newAuth(cfg)
	if err != nil {
		return err
	}
	defer closeAuth()

	tasks := service.NewTaskService(b.tasks, b.users, b.activity, logger, cfg.RetentionDays)
	svc := api.Services{
		Tasks: tasks,
		Users: service.NewUserService(b.users, b.activity, logger, cfg.AdminSubjects),
		Stats: service.NewStatsService(tasks),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var deduper api.Deduper
	if b.redis != nil {
		deduper = api.NewRedisDeduper(b.redis, cfg.TenantID, cfg.DeduperTTL)
		svc.Feed = api.NewFeed()
		go svc.Feed.Run(ctx, b.redis, cfg.TenantID, logger)
	}

	e := echo.New()
	e.HideBanner = true
	// streams end when the process is asked to stop
	e.Server.BaseContext = func(net.Listener) context.Context { return ctx }
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	api.Register(e, svc, auth, deduper, logger)

	sched := scheduler.New(time.UTC, logger)
	if _, err := sched.ScheduleSweep(cfg.SweepSchedule, service.NewSweeper(b.tasks, b.activity, logger, cfg.RetentionDays)); err != nil {
		return fmt.Errorf("invalid SWEEP_SCHEDULE: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	listenAddr := cfg.ListenAddr
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	errc := make(chan error, 1)
	go func() { errc <- e.Start(listenAddr) }()
	logger.WithFields(log.Fields{"addr": listenAddr, "tenant": cfg.TenantID}).Info("api listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newAuth builds the token validator. Test mode accepts HS256 tokens signed
// with TEST_JWT_SECRET; otherwise keys come from the Auth0 JWKS endpoint.
func newAuth(c config.Config) (*api.Auth, func(), error) {
	if c.Auth0TestMode {
		return api.NewAuth(api.AuthConfig{TestSecret: []byte(c.TestJWTSecret)}), func() {}, nil
	}
	jwks, err := keyfunc.Get(c.JWKSURL(), keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("jwks: %w", err)
	}
	auth := api.NewAuth(api.AuthConfig{
		JWKS:     jwks,
		Audience: c.Auth0Audience,
		Issuer:   c.AuthIssuer(),
	})
	return auth, jwks.EndBackground, nil
}
