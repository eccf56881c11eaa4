package httpgin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/kirinyoku/pelada/internal/auth"
	"github.com/kirinyoku/pelada/internal/domain"
	redisx "github.com/kirinyoku/pelada/internal/redis"
	redisrepo "github.com/kirinyoku/pelada/internal/repository/redis"
	"github.com/kirinyoku/pelada/internal/service"
	"github.com/kirinyoku/pelada/internal/service/admin"
	"github.com/kirinyoku/pelada/internal/service/billing"
	"github.com/kirinyoku/pelada/internal/service/promotion"
	"github.com/kirinyoku/pelada/internal/service/query"
	"github.com/kirinyoku/pelada/internal/service/reservation"
)

const idemLockTTL = 60 * time.Second

type RouterConfig struct {
	// SchedulerToken is the static bearer token accepted by
	// /scheduler/promote in addition to admin JWTs.
	SchedulerToken string
	// AllowOrigins lists the CORS origins; empty allows any.
	AllowOrigins []string
	Location     *time.Location
	Now          func() time.Time
}

func NewRouter(
	svcs *service.Services,
	authn *auth.Service,
	idem *redisrepo.IdempotencyStore,
	cfg RouterConfig,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS(cfg.AllowOrigins))
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/events/:id", handleGetEvent(svcs))
	r.GET("/events/:id/reservations", handleRoster(svcs))

	member := r.Group("/", JWTAuth(authn))
	{
		member.POST("/events/:id/reservations", handleRespond(svcs, idem))
		member.DELETE("/events/:id/reservations", handleWithdraw(svcs))
	}

	r.POST("/scheduler/promote", SchedulerOrAdmin(authn, cfg.SchedulerToken), handlePromote(svcs, cfg))

	adminOnly := r.Group("/", JWTAuth(authn), RequireRole(domain.RoleAdmin))
	{
		adminOnly.POST("/billing/monthly", handleBillingMonthly(svcs, cfg))
		adminOnly.POST("/admin/members", handleCreateMember(svcs))
		adminOnly.POST("/admin/events", handleCreateEvents(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Get event summary
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.EventSummary
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		sum, err := svcs.Query.EventSummary(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, sum, "public, max-age=15", true)
	}
}

// @Summary  List event reservations
// @Param    id  path  int  true  "Event ID"
// @Success  200  {array}   domain.Reservation
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/reservations [get]
func handleRoster(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		list, err := svcs.Reservation.Roster(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, list, "no-cache", true)
	}
}

// @Summary  Confirm or decline attendance (idempotent)
// @Security BearerAuth
// @Param    id  path  int  true  "Event ID"
// @Param    req body  RespondRequest true "payload"
// @Header   200 {string} Idempotency-Key "echo"
// @Success  200 {object} domain.Reservation
// @Failure  400 {object} ErrorResponse
// @Failure  401 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "capacity exceeded / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /events/{id}/reservations [post]
func handleRespond(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req RespondRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		callerID := memberID(c)
		ctx := c.Request.Context()

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisx.KeyIdempotency(
				fmt.Sprintf("event:%d:reservations", eventID),
				callerID,
				idemKey,
			)

			if payload, ok, _ := idem.GetResult(ctx, idemStorageKey); ok {
				replay(c, idemKey, payload)
				return
			}

			locked, err := idem.AcquireLock(ctx, idemStorageKey, idemLockTTL)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(ctx, idemStorageKey); ok {
					replay(c, idemKey, payload)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		res, err := svcs.Reservation.Respond(ctx, reservation.RespondRequest{
			EventID:   eventID,
			MemberID:  callerID,
			State:     domain.ReservationState(strings.ToUpper(req.State)),
			GuestName: req.GuestName,
		})
		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Release(ctx, idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		if idemStorageKey != "" {
			b, _ := json.Marshal(res)
			_ = idem.SaveResult(ctx, idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusOK, res)
	}
}

// @Summary  Withdraw from an event
// @Security BearerAuth
// @Param    id  path  int  true  "Event ID"
// @Success  204
// @Failure  404 {object} ErrorResponse
// @Router   /events/{id}/reservations [delete]
func handleWithdraw(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		if err := svcs.Reservation.Withdraw(c.Request.Context(), eventID, memberID(c)); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Promote waitlisted members of upcoming events
// @Security BearerAuth
// @Param    lookahead_hours  query  number  false  "default 24"
// @Param    threshold_hours  query  number  false  "default 4.5"
// @Success  200 {object} PromoteResponse
// @Failure  400 {object} ErrorResponse
// @Failure  401 {object} ErrorResponse
// @Failure  403 {object} ErrorResponse
// @Router   /scheduler/promote [post]
func handlePromote(svcs *service.Services, cfg RouterConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		lookahead, ok := parseHoursQuery(c, "lookahead_hours")
		if !ok {
			return
		}
		threshold, ok := parseHoursQuery(c, "threshold_hours")
		if !ok {
			return
		}

		results, err := svcs.Promotion.Promote(c.Request.Context(), cfg.Now(), promotion.Options{
			Lookahead: lookahead,
			Threshold: threshold,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, PromoteResponse{Results: results})
	}
}

// @Summary  Run the monthly subscriber billing
// @Security BearerAuth
// @Param    req body  BillingRequest false "payload"
// @Success  200 {object} domain.BillingSummary
// @Failure  400 {object} ErrorResponse
// @Failure  403 {object} ErrorResponse
// @Router   /billing/monthly [post]
func handleBillingMonthly(svcs *service.Services, cfg RouterConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BillingRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}
		if req.Period == "" {
			req.Period = domain.BillingPeriod(cfg.Now().In(cfg.Location))
		}

		sum, err := svcs.Billing.RunMonthly(c.Request.Context(), req.Period)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, sum)
	}
}

// @Summary  Create member
// @Security BearerAuth
// @Param    req body  CreateMemberRequest true "payload"
// @Success  201 {object} domain.Member
// @Failure  409 {object} ErrorResponse
// @Router   /admin/members [post]
func handleCreateMember(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		m, err := svcs.Admin.CreateMember(c.Request.Context(), admin.MemberInput{
			Name:              req.Name,
			Email:             req.Email,
			Phone:             req.Phone,
			Tier:              domain.Tier(strings.ToUpper(req.Tier)),
			Role:              req.Role,
			GatewayCustomerID: req.GatewayCustomerID,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, m)
	}
}

// @Summary  Create a weekly event series
// @Security BearerAuth
// @Param    req body  CreateEventsRequest true "payload"
// @Success  201 {object} CreateEventsResponse
// @Failure  400 {object} ErrorResponse
// @Router   /admin/events [post]
func handleCreateEvents(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEventsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		first, err := time.Parse(time.DateOnly, req.FirstDate)
		if err != nil {
			badRequest(c, "invalid first_date (YYYY-MM-DD)")
			return
		}
		if req.Weeks == 0 {
			req.Weeks = 1
		}

		events, err := svcs.Admin.CreateEventSeries(c.Request.Context(), admin.SeriesRequest{
			Title:      req.Title,
			FirstDate:  first,
			StartTime:  req.StartTime,
			MaxSlots:   req.MaxSlots,
			PriceCents: req.PriceCents,
			Weeks:      req.Weeks,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateEventsResponse{Events: events})
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

// parseHoursQuery returns zero when the parameter is absent.
func parseHoursQuery(c *gin.Context, name string) (time.Duration, bool) {
	s := c.Query(name)
	if s == "" {
		return 0, true
	}
	h, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(h) || math.IsInf(h, 0) {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return time.Duration(h * float64(time.Hour)), true
}

func replay(c *gin.Context, idemKey, payload string) {
	c.Header("Idempotency-Key", idemKey)
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(payload))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var rl reservation.RateLimitedError
	if errors.As(err, &rl) {
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
		return
	}

	switch {
	// not found
	case errors.Is(err, reservation.ErrEventNotFound), errors.Is(err, query.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
	case errors.Is(err, reservation.ErrMemberNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "member not found"})
	case errors.Is(err, reservation.ErrReservationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "reservation not found"})
	// conflicts
	case errors.Is(err, reservation.ErrCapacityExceeded):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "capacity exceeded"})
	case errors.Is(err, admin.ErrMemberConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "member conflict"})
	// validation
	case errors.Is(err, reservation.ErrInvalidState),
		errors.Is(err, reservation.ErrEventClosed),
		errors.Is(err, promotion.ErrInvalidOptions),
		errors.Is(err, billing.ErrInvalidPeriod),
		errors.Is(err, billing.ErrFeeNotSet),
		errors.Is(err, admin.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: rootMessage(err)})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

// rootMessage drops the "pkg.Type.Method:" prefixes added while wrapping.
func rootMessage(err error) string {
	msg := err.Error()
	for {
		i := strings.Index(msg, ":")
		if i < 0 || strings.ContainsAny(msg[:i], " \"") {
			return strings.TrimSpace(msg)
		}
		msg = msg[i+1:]
	}
}
