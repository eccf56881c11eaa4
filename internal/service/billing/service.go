package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/notifier"
	"github.com/kirinyoku/pelada/internal/repository"
	"github.com/kirinyoku/pelada/internal/service/payment"
)

const DefaultConcurrency = 4

var (
	ErrInvalidPeriod = errors.New("billing period must be YYYY-MM")
	ErrFeeNotSet     = errors.New("monthly fee is not configured")
)

type Charger interface {
	EnsureMonthly(ctx context.Context, member *domain.Member, period string, amountCents int64) (*domain.PendingCharge, bool, error)
	RequestPayload(member *domain.Member, c *domain.PendingCharge) payment.Request
}

type Config struct {
	MonthlyFeeCents int64
	Concurrency     int
}

type Service struct {
	store   repository.Store
	charger Charger
	notify  notifier.Notifier
	log     *slog.Logger
	cfg     Config
}

func New(store repository.Store, charger Charger, notify notifier.Notifier, log *slog.Logger, cfg Config) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if notify == nil {
		notify = notifier.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store:   store,
		charger: charger,
		notify:  notify,
		log:     log,
		cfg:     cfg,
	}
}

// Batch is the billing.monthly payload.
type Batch struct {
	Period   string            `json:"period"`
	Payments []payment.Request `json:"payments"`
}

// RunMonthly ensures every active subscriber has a charge for the period.
// Members already settled are skipped and open charges are reused. A
// failing member is recorded in the summary and does not stop the batch.
//
// Returns:
//   - *domain.BillingSummary: per-outcome counters and the failures.
//   - error: billing.ErrInvalidPeriod if period is not YYYY-MM.
//   - error: billing.ErrFeeNotSet if no monthly fee is configured.
func (s *Service) RunMonthly(ctx context.Context, period string) (*domain.BillingSummary, error) {
	const op = "service.billing.RunMonthly"

	period, err := domain.ParseBillingPeriod(period)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidPeriod)
	}
	if s.cfg.MonthlyFeeCents <= 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrFeeNotSet)
	}

	members, err := s.store.Members().ListActiveByTier(ctx, domain.TierSubscriber)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var (
		mu       sync.Mutex
		summary  = &domain.BillingSummary{Period: period, Members: len(members), Failures: []domain.BillingFailure{}}
		payments []payment.Request
	)

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	for i := range members {
		m := &members[i]

		g.Go(func() error {
			c, created, err := s.charger.EnsureMonthly(ctx, m, period, s.cfg.MonthlyFeeCents)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err != nil:
				s.log.Warn("billing: member failed",
					slog.Int64("member_id", m.ID),
					slog.String("period", period),
					slog.Any("err", err),
				)
				summary.Failed++
				summary.Failures = append(summary.Failures, domain.BillingFailure{MemberID: m.ID, Error: err.Error()})
			case c.Status == domain.ChargeConfirmed:
				summary.Skipped++
			case created:
				summary.Created++
				payments = append(payments, s.charger.RequestPayload(m, c))
			default:
				summary.Reused++
				payments = append(payments, s.charger.RequestPayload(m, c))
			}

			return nil
		})
	}

	_ = g.Wait()

	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].MemberID < summary.Failures[j].MemberID
	})
	sort.Slice(payments, func(i, j int) bool { return payments[i].MemberID < payments[j].MemberID })

	if len(payments) > 0 {
		if err := s.notify.Send(ctx, notifier.EventBillingMonthly, Batch{Period: period, Payments: payments}); err != nil {
			s.log.Warn("billing: notification failed", slog.String("period", period), slog.Any("err", err))
		}
	}

	s.log.Info("billing: run finished",
		slog.String("period", period),
		slog.Int("members", summary.Members),
		slog.Int("created", summary.Created),
		slog.Int("reused", summary.Reused),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
	)

	return summary, nil
}
