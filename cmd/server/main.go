package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gezgintur/tour-booking/internal/config"
	"github.com/gezgintur/tour-booking/internal/database"
	"github.com/gezgintur/tour-booking/internal/handler"
	"github.com/gezgintur/tour-booking/internal/middleware"
	"github.com/gezgintur/tour-booking/internal/queue"
	"github.com/gezgintur/tour-booking/internal/repository"
	"github.com/gezgintur/tour-booking/internal/router"
	"github.com/gezgintur/tour-booking/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env vars win

	cfg := config.Load()
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "tour-booking").
		Logger()

	var (
		schedules repository.ScheduleStore
		bookings  repository.BookingStore
		invoices  repository.InvoiceStore
		tickets   repository.TicketStore
	)
	switch cfg.StoreDriver {
	case "mysql":
		db, err := database.Open(database.Params{
			User: cfg.DBUser, Pass: cfg.DBPass,
			Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			PingTimeout:     cfg.DBPingTimeout,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("database connect failed")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := database.EnsureSchema(ctx, db); err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("schema bootstrap failed")
		}
		cancel()
		schedules = repository.NewScheduleRepo(db)
		bookings = repository.NewBookingRepo(db)
		invoices = repository.NewInvoiceRepo(db)
		tickets = repository.NewTicketRepo(db)
	case "memory":
		mem := repository.NewMemoryStore(cfg.LockWait)
		schedules = mem.Schedules()
		bookings = mem.Bookings()
		invoices = mem.Invoices()
		tickets = mem.Tickets()
		logger.Warn().Msg("running on the in-memory store; state is lost on restart")
	default:
		logger.Fatal().Str("driver", cfg.StoreDriver).Msg("unknown STORE_DRIVER")
	}

	var publisher service.EventPublisher
	if cfg.QueueEnabled {
		publisher = queue.NewPublisher(logger)
	}

	svc := service.NewBookingService(schedules, bookings, invoices, tickets, publisher, service.Options{
		GracePeriod: cfg.HoldGracePeriod,
		LockWait:    cfg.LockWait,
		MaxRetries:  cfg.MaxRetries,
	}, logger)
	sweeper := service.NewSweeper(svc, cfg.SweepInterval, cfg.ReconcileEvery, logger)

	e := echo.New()
	e.HideBanner = true
	limiter := middleware.RateLimit(config.LoadRateLimitConfig(), config.NewRedisClient())
	router.Register(e,
		handler.NewBookingHandler(svc, cfg.GatewayToken),
		handler.NewScheduleHandler(svc),
		cfg.JWTSecret,
		limiter,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	addr := ":" + cfg.Port
	g.Go(func() error {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return sweeper.Run(ctx) })
	if cfg.QueueEnabled {
		g.Go(func() error {
			return queue.StartPaymentConsumer(ctx, func(ctx context.Context, bookingID, method string, amountCents int64) error {
				_, _, err := svc.ConfirmPayment(ctx, bookingID, method, amountCents)
				return err
			}, logger)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
	logger.Info().Msg("shutdown complete")
}
