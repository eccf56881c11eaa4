package service

import (
	"log/slog"

	"github.com/kirinyoku/pelada/internal/dispatch"
	"github.com/kirinyoku/pelada/internal/gateway"
	"github.com/kirinyoku/pelada/internal/notifier"
	redisx "github.com/kirinyoku/pelada/internal/redis"
	"github.com/kirinyoku/pelada/internal/repository"
	redisrepo "github.com/kirinyoku/pelada/internal/repository/redis"
	"github.com/kirinyoku/pelada/internal/service/admin"
	"github.com/kirinyoku/pelada/internal/service/billing"
	"github.com/kirinyoku/pelada/internal/service/payment"
	"github.com/kirinyoku/pelada/internal/service/policy"
	"github.com/kirinyoku/pelada/internal/service/promotion"
	"github.com/kirinyoku/pelada/internal/service/query"
	"github.com/kirinyoku/pelada/internal/service/reservation"
)

type Services struct {
	Reservation *reservation.Service
	Promotion   *promotion.Service
	Billing     *billing.Service
	Payment     *payment.Trigger
	Query       *query.Service
	Admin       *admin.Service
}

type Config struct {
	Policy      policy.Config
	Payment     payment.Config
	Reservation reservation.Config
	Promotion   promotion.Config
	Billing     billing.Config
	Query       query.Config
}

// Deps are the collaborators shared by the services. Cache, Pubsub,
// Limiter and Locker are nil when running without redis.
type Deps struct {
	Store    repository.Store
	Gateway  gateway.Gateway
	Notifier notifier.Notifier
	Dispatch *dispatch.Dispatcher
	Cache    *redisrepo.Cache
	Pubsub   *redisx.EventsPubSub
	Limiter  *redisrepo.SlidingWindowLimiter
	Locker   *redisrepo.IdempotencyStore
	Log      *slog.Logger
}

func NewServices(deps Deps, cfg Config) *Services {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	var locker payment.Locker
	if deps.Locker != nil {
		locker = deps.Locker
	}

	trigger := payment.New(
		deps.Store,
		deps.Gateway,
		deps.Notifier,
		locker,
		cfg.Payment,
		deps.Log.With("component", "payment"),
	)

	resDeps := reservation.Deps{
		Store:    deps.Store,
		Policy:   policy.New(cfg.Policy),
		Charger:  trigger,
		Dispatch: deps.Dispatch,
		Log:      deps.Log.With("component", "reservation"),
	}
	promoDeps := promotion.Deps{
		Store:    deps.Store,
		Charger:  trigger,
		Dispatch: deps.Dispatch,
		Notifier: deps.Notifier,
		Log:      deps.Log.With("component", "promotion"),
	}
	var adminPub admin.ChangePublisher

	// typed nil pointers must not leak into the optional interfaces
	if deps.Cache != nil {
		resDeps.Cache = deps.Cache
		promoDeps.Cache = deps.Cache
	}
	if deps.Pubsub != nil {
		resDeps.Pubsub = deps.Pubsub
		adminPub = deps.Pubsub
	}
	if deps.Limiter != nil {
		resDeps.Limiter = deps.Limiter
	}

	billingSvc := billing.New(
		deps.Store,
		trigger,
		deps.Notifier,
		deps.Log.With("component", "billing"),
		cfg.Billing,
	)

	return &Services{
		Reservation: reservation.New(resDeps, cfg.Reservation),
		Promotion:   promotion.New(promoDeps, cfg.Promotion),
		Billing:     billingSvc,
		Payment:     trigger,
		Query:       query.New(deps.Store, deps.Cache, cfg.Query),
		Admin:       admin.New(deps.Store, adminPub),
	}
}
