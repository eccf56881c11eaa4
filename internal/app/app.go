package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kirinyoku/pelada/internal/auth"
	"github.com/kirinyoku/pelada/internal/config"
	"github.com/kirinyoku/pelada/internal/dispatch"
	"github.com/kirinyoku/pelada/internal/gateway"
	"github.com/kirinyoku/pelada/internal/notifier"
	"github.com/kirinyoku/pelada/internal/postgres"
	redisx "github.com/kirinyoku/pelada/internal/redis"
	"github.com/kirinyoku/pelada/internal/repository"
	"github.com/kirinyoku/pelada/internal/repository/memory"
	postgresrepo "github.com/kirinyoku/pelada/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/pelada/internal/repository/redis"
	"github.com/kirinyoku/pelada/internal/service"
	"github.com/kirinyoku/pelada/internal/service/billing"
	"github.com/kirinyoku/pelada/internal/service/payment"
	"github.com/kirinyoku/pelada/internal/service/policy"
	"github.com/kirinyoku/pelada/internal/service/promotion"
	"github.com/kirinyoku/pelada/internal/service/query"
	"github.com/kirinyoku/pelada/internal/service/reservation"
	httpgin "github.com/kirinyoku/pelada/internal/transport/http/gin"
)

const (
	rateLimit       = 20
	rateLimitWindow = time.Minute
	idemTTL         = 2 * time.Hour
	shutdownTimeout = 10 * time.Second
)

type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool     *pgxpool.Pool
	rdb      *goredis.Client
	cache    *redisrepo.Cache
	pubsub   *redisx.EventsPubSub
	amqp     *notifier.AMQP
	dispatch *dispatch.Dispatcher
	services *service.Services

	httpServer *http.Server
}

// New wires the application. The caller owns the returned App and must
// Close it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	deps := service.Deps{
		Store:   store,
		Gateway: gateway.NewClient(gateway.Config{BaseURL: cfg.Gateway.BaseURL, APIKey: cfg.Gateway.APIKey, Timeout: cfg.Gateway.Timeout}),
		Log:     logger,
	}

	var idem *redisrepo.IdempotencyStore
	if cfg.Redis.Enabled {
		rdb, err := redisx.New(ctx, cfg.Redis)
		if err != nil {
			a.closeResources()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		a.rdb = rdb
		a.cache = redisrepo.NewCache(rdb)
		a.pubsub = redisx.NewEventsPubSub(rdb)
		idem = redisrepo.NewIdempotencyStore(rdb, idemTTL)

		deps.Cache = a.cache
		deps.Pubsub = a.pubsub
		deps.Limiter = redisrepo.NewSlidingWindowLimiter(rdb, "reservations", rateLimit, rateLimitWindow)
		deps.Locker = idem
	}

	deps.Notifier = a.openNotifier()

	a.dispatch = dispatch.New(dispatch.Config{
		Concurrency: cfg.Dispatch.Concurrency,
		Timeout:     cfg.Dispatch.Timeout,
	}, logger.With("component", "dispatch"))
	deps.Dispatch = a.dispatch

	loc := cfg.Schedule.Location
	a.services = service.NewServices(deps, service.Config{
		Policy: policy.Config{CasualWindowHours: cfg.Schedule.CasualWindowHours},
		Payment: payment.Config{
			CardFeePercent: cfg.Payment.CardFeePercent,
			CardLinks:      cfg.Payment.CardLinks,
			Location:       loc,
		},
		Reservation: reservation.Config{Location: loc, LateGrace: cfg.Schedule.LateGrace},
		Promotion: promotion.Config{
			Location:  loc,
			Lookahead: cfg.Schedule.Lookahead,
			Threshold: cfg.Schedule.Threshold,
		},
		Billing: billing.Config{MonthlyFeeCents: cfg.Payment.MonthlyFeeCents},
		Query:   query.Config{Location: loc},
	})

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty, member endpoints will reject every request")
	}
	authn := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	router := httpgin.NewRouter(a.services, authn, idem, httpgin.RouterConfig{
		SchedulerToken: cfg.Auth.SchedulerToken,
		AllowOrigins:   cfg.Server.CORSOrigins,
		Location:       loc,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) (repository.Store, error) {
	switch a.cfg.Store.Driver {
	case config.StoreDriverMemory:
		store := memory.NewStore()
		if a.cfg.Store.MemorySeed != "" {
			f, err := os.Open(a.cfg.Store.MemorySeed)
			if err != nil {
				return nil, fmt.Errorf("failed to open memory seed: %w", err)
			}
			defer f.Close()
			if err := store.LoadSeed(f); err != nil {
				return nil, fmt.Errorf("failed to load memory seed: %w", err)
			}
		}
		a.logger.Warn("using the in-memory store, data is lost on exit")
		return store, nil
	default:
		pool, err := postgres.New(ctx, a.cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		a.pool = pool
		return postgresrepo.NewStore(pool), nil
	}
}

func (a *App) openNotifier() notifier.Notifier {
	switch a.cfg.Notifier.Driver {
	case config.NotifierWebhook:
		return notifier.NewWebhook(notifier.WebhookConfig{
			URL:       a.cfg.Notifier.WebhookURL,
			SharedKey: a.cfg.Notifier.SharedKey,
		})
	case config.NotifierAMQP:
		a.amqp = notifier.NewAMQP(notifier.AMQPConfig{
			URL:   a.cfg.Notifier.AMQPURL,
			Queue: a.cfg.Notifier.Queue,
		})
		return a.amqp
	default:
		return notifier.Nop{}
	}
}

func (a *App) Services() *service.Services {
	return a.services
}

// Pool is nil unless the postgres store is in use.
func (a *App) Pool() *pgxpool.Pool {
	return a.pool
}

// Run serves HTTP until ctx is cancelled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Drop cached summaries changed by other instances
	if a.pubsub != nil && a.cache != nil {
		g.Go(func() error {
			err := a.pubsub.Subscribe(gCtx, func(ctx context.Context, eventID int64) {
				if err := a.cache.InvalidateEvent(ctx, eventID); err != nil {
					a.logger.Warn("cache invalidation failed", "event_id", eventID, "err", err)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("events subscription stopped", "err", err)
			}
			return nil
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

// Close waits for dispatched side effects and releases connections.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.dispatch != nil {
		if werr := a.dispatch.Wait(ctx); werr != nil {
			err = fmt.Errorf("dispatcher drain: %w", werr)
		}
	}
	a.closeResources()
	return err
}

func (a *App) closeResources() {
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.logger.Warn("amqp close failed", "err", err)
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
