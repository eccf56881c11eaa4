package httpgin

import (
	"github.com/kirinyoku/pelada/internal/domain"
)

type RespondRequest struct {
	State     string  `json:"state" binding:"required"`
	GuestName *string `json:"guest_name"`
}

type BillingRequest struct {
	// Period defaults to the current month when empty.
	Period string `json:"period"`
}

type CreateMemberRequest struct {
	Name              string `json:"name" binding:"required"`
	Email             string `json:"email" binding:"omitempty,email"`
	Phone             string `json:"phone"`
	Tier              string `json:"tier" binding:"required"`
	Role              string `json:"role"`
	GatewayCustomerID string `json:"gateway_customer_id"`
}

type CreateEventsRequest struct {
	Title      string `json:"title"`
	FirstDate  string `json:"first_date" binding:"required"`
	StartTime  string `json:"start_time" binding:"required"`
	MaxSlots   int    `json:"max_slots" binding:"required,gt=0"`
	PriceCents int64  `json:"price_cents" binding:"gte=0"`
	Weeks      int    `json:"weeks"`
}

type CreateEventsResponse struct {
	Events []domain.Event `json:"events"`
}

type PromoteResponse struct {
	Results []domain.PromotionResult `json:"results"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
