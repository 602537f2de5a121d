package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"byteme/config"
	"byteme/consumers"
	"byteme/controllers"
	"byteme/database"
	"byteme/logger"
	"byteme/rabbitmq"
	"byteme/server"
	"byteme/utils"
)

const dbConnectAttempts = 10

// bus is the part of the RabbitMQ client the services use.
type bus interface {
	rabbitmq.Publisher
	consumers.Bus
	Ping(ctx context.Context) error
	Close() error
}

var errBusOffline = errors.New("rabbitmq is not connected")

// offlineBus stands in when RABBITMQ_REQUIRED is false and the broker
// could not be reached. Every operation fails.
type offlineBus struct{}

func (offlineBus) Publish(context.Context, string, string, interface{}, ...rabbitmq.PublishOption) error {
	return errBusOffline
}

func (offlineBus) PublishDelayed(context.Context, string, interface{}, time.Duration, ...rabbitmq.PublishOption) error {
	return errBusOffline
}

func (offlineBus) Consume(context.Context, string, string, rabbitmq.Handler) error {
	return errBusOffline
}

func (offlineBus) Ping(context.Context) error { return errBusOffline }
func (offlineBus) Close() error               { return nil }

// app holds what a service process shares across its components.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *database.DB
	bus    bus
	checks map[string]controllers.Check
}

func newApp(service string) (*app, error) {
	cfg, err := config.Load(service)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log, err := logger.ForService(cfg.Log.Level, service)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	return &app{cfg: cfg, logger: log, checks: map[string]controllers.Check{}}, nil
}

// openDB connects, retrying while the database starts, and runs ddl.
func (a *app) openDB(ctx context.Context, ddl ...string) error {
	var lastErr error
	for attempt := 1; attempt <= dbConnectAttempts; attempt++ {
		db, err := database.Open(ctx, a.cfg.Database)
		if err == nil {
			a.db = db
			break
		}
		lastErr = err
		wait := utils.Backoff(attempt, time.Second, 10*time.Second)
		a.logger.Warn("database not reachable, retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		if err := utils.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	if a.db == nil {
		return fmt.Errorf("connecting to database: %w", lastErr)
	}

	if err := a.db.Migrate(ctx, ddl...); err != nil {
		return err
	}
	a.checks["database"] = a.db.PingContext
	a.logger.Info("database ready", zap.String("driver", a.cfg.Database.Driver), zap.String("name", a.cfg.Database.Name))
	return nil
}

// openBus connects to RabbitMQ and declares the topology. When the broker
// is optional and unreachable the service starts with an offline bus.
func (a *app) openBus(ctx context.Context) error {
	rmq, err := rabbitmq.NewRabbitMQ(ctx, a.cfg, a.logger)
	if err != nil {
		if a.cfg.RabbitMQ.Required {
			return err
		}
		a.logger.Warn("starting without rabbitmq", zap.Error(err))
		a.bus = offlineBus{}
		a.checks["rabbitmq"] = a.bus.Ping
		return nil
	}
	if err := rmq.SetupQueues(ctx); err != nil {
		rmq.Close()
		return fmt.Errorf("setting up rabbitmq: %w", err)
	}
	a.bus = rmq
	a.checks["rabbitmq"] = rmq.Ping
	return nil
}

func (a *app) dialect() database.Dialect {
	return database.Dialect{Driver: a.cfg.Database.Driver}
}

func (a *app) health(info map[string]string) controllers.Health {
	return controllers.Health{Service: a.cfg.Service, Checks: a.checks, Info: info}
}

func (a *app) close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.Warn("closing rabbitmq", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("closing database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// run serves HTTP and runs every background worker until a signal arrives
// or one of them fails.
func (a *app) run(ctx context.Context, router *gin.Engine, workers ...func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := server.New(a.cfg.Server.Port, router, a.logger)
	g.Go(func() error { return srv.Run(ctx) })
	for _, w := range workers {
		w := w
		g.Go(func() error { return w(ctx) })
	}
	return g.Wait()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// consume returns a worker that runs subs on the app's bus.
func (a *app) consume(subs ...consumers.Subscription) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if _, offline := a.bus.(offlineBus); offline {
			a.logger.Warn("rabbitmq offline, consumers not started")
			<-ctx.Done()
			return nil
		}
		return consumers.Run(ctx, a.bus, subs...)
	}
}
