package domain

import (
	"time"

	"github.com/google/uuid"
)

type Tier string

const (
	TierSubscriber Tier = "SUBSCRIBER"
	TierCasual     Tier = "CASUAL"
	TierKeeper     Tier = "KEEPER"
	TierGuest      Tier = "GUEST"
)

// IsPriority reports whether the tier is exempt from the casual
// waitlist window.
func (t Tier) IsPriority() bool {
	return t == TierSubscriber || t == TierKeeper
}

func (t Tier) Valid() bool {
	switch t {
	case TierSubscriber, TierCasual, TierKeeper, TierGuest:
		return true
	}
	return false
}

type ReservationState string

const (
	StatePending    ReservationState = "PENDING"
	StateConfirmed  ReservationState = "CONFIRMED"
	StateDeclined   ReservationState = "DECLINED"
	StateWaitlisted ReservationState = "WAITLISTED"
)

type ChargeStatus string

const (
	ChargePending   ChargeStatus = "PENDING"
	ChargeConfirmed ChargeStatus = "CONFIRMED"
	ChargeCancelled ChargeStatus = "CANCELLED"
	ChargeRefunded  ChargeStatus = "REFUNDED"
)

// Active reports whether the status occupies the idempotency slot of
// its (member, event) or (member, period) key.
func (s ChargeStatus) Active() bool {
	return s == ChargePending || s == ChargeConfirmed
}

type PaymentMethod string

const (
	MethodPix  PaymentMethod = "PIX"
	MethodCard PaymentMethod = "CARD"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

type Event struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Date         time.Time `json:"date"`
	StartTime    string    `json:"start_time"`
	MaxSlots     int       `json:"max_slots"`
	PriceCents   int64     `json:"price_cents"`
	Active       bool      `json:"active"`
	RecurrenceID *string   `json:"recurrence_id,omitempty"`
}

type Member struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	Tier              Tier   `json:"tier"`
	Role              string `json:"role"`
	Active            bool   `json:"active"`
	GatewayCustomerID string `json:"gateway_customer_id,omitempty"`
}

type Reservation struct {
	ID        int64            `json:"id"`
	EventID   int64            `json:"event_id"`
	MemberID  int64            `json:"member_id"`
	GuestName *string          `json:"guest_name,omitempty"`
	State     ReservationState `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// WaitlistEntry is a waitlisted reservation joined with the tier and
// contact of its member.
type WaitlistEntry struct {
	Reservation Reservation
	Member      Member
}

type PendingCharge struct {
	ID              uuid.UUID     `json:"id"`
	MemberID        int64         `json:"member_id"`
	EventID         *int64        `json:"event_id,omitempty"`
	AmountCents     int64         `json:"amount_cents"`
	CardAmountCents int64         `json:"card_amount_cents"`
	Method          PaymentMethod `json:"method"`
	Status          ChargeStatus  `json:"status"`
	ExternalRef     string        `json:"external_ref"`
	Code            string        `json:"code"`
	PaymentLink     *string       `json:"payment_link,omitempty"`
	BillingPeriod   *string       `json:"billing_period,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

type EventCounts struct {
	Confirmed  int64 `json:"confirmed"`
	Waitlisted int64 `json:"waitlisted"`
	Declined   int64 `json:"declined"`
	Pending    int64 `json:"pending"`
}

type EventSummary struct {
	Event    Event       `json:"event"`
	StartsAt time.Time   `json:"starts_at"`
	Counts   EventCounts `json:"counts"`
	Vacancy  int64       `json:"vacancy"`
}

type PromotedMember struct {
	ReservationID int64  `json:"reservation_id"`
	MemberID      int64  `json:"member_id"`
	Name          string `json:"name"`
	Tier          Tier   `json:"tier"`
}

type PromotionResult struct {
	EventID       int64            `json:"event_id"`
	StartsAt      time.Time        `json:"starts_at"`
	HoursUntil    float64          `json:"hours_until"`
	Vacancies     int              `json:"vacancies"`
	PromotedCount int              `json:"promoted_count"`
	Promoted      []PromotedMember `json:"promoted"`
	Error         string           `json:"error,omitempty"`
}

type BillingFailure struct {
	MemberID int64  `json:"member_id"`
	Error    string `json:"error"`
}

type BillingSummary struct {
	Period   string           `json:"period"`
	Members  int              `json:"members"`
	Created  int              `json:"created"`
	Reused   int              `json:"reused"`
	Skipped  int              `json:"skipped"`
	Failed   int              `json:"failed"`
	Failures []BillingFailure `json:"failures,omitempty"`
}
