package httpgin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/pelada/internal/auth"
	"github.com/kirinyoku/pelada/internal/dispatch"
	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/gateway/gatewaytest"
	"github.com/kirinyoku/pelada/internal/notifier/notifiertest"
	"github.com/kirinyoku/pelada/internal/repository/memory"
	"github.com/kirinyoku/pelada/internal/service"
	"github.com/kirinyoku/pelada/internal/service/billing"
	"github.com/kirinyoku/pelada/internal/service/query"
	"github.com/kirinyoku/pelada/internal/service/reservation"
)

const schedulerToken = "sched-secret"

var testNow = time.Date(2026, 10, 20, 16, 0, 0, 0, time.UTC)

type harness struct {
	router *gin.Engine
	store  *memory.Store
	gw     *gatewaytest.Fake
	disp   *dispatch.Dispatcher
	authn  *auth.Service
	event  domain.Event
}

func newHarness(t *testing.T, capacity int) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return testNow }

	h := &harness{
		store: memory.NewStore(),
		gw:    &gatewaytest.Fake{},
		disp:  dispatch.New(dispatch.Config{}, log),
		authn: auth.New("test-secret", time.Hour),
	}
	h.event = h.store.AddEvent(domain.Event{
		Title: "Tuesday", Date: time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC),
		StartTime: "20:00", MaxSlots: capacity, PriceCents: 2500, Active: true,
	})

	svcs := service.NewServices(service.Deps{
		Store:    h.store,
		Gateway:  h.gw,
		Notifier: &notifiertest.Recorder{},
		Dispatch: h.disp,
		Log:      log,
	}, service.Config{
		Reservation: reservation.Config{Location: time.UTC, Now: now},
		Billing:     billing.Config{MonthlyFeeCents: 12000},
		Query:       query.Config{Location: time.UTC},
	})

	h.router = NewRouter(svcs, h.authn, nil, RouterConfig{
		SchedulerToken: schedulerToken,
		Location:       time.UTC,
		Now:            now,
	}, log)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.disp.Wait(ctx)
	})

	return h
}

func (h *harness) token(t *testing.T, m domain.Member) string {
	t.Helper()
	tok, err := h.authn.GenerateToken(m.ID, m.Role)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(method, path, token, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, 10)

	w := h.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRespond_RequiresToken(t *testing.T) {
	h := newHarness(t, 10)

	w := h.do(http.MethodPost, "/events/1/reservations", "", `{"state":"CONFIRMED"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/events/1/reservations", "garbage", `{"state":"CONFIRMED"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRespond_ConfirmThenCapacityExceeded(t *testing.T) {
	h := newHarness(t, 1)
	a := h.store.AddMember(domain.Member{Name: "A", Tier: domain.TierSubscriber, Active: true})
	b := h.store.AddMember(domain.Member{Name: "B", Tier: domain.TierSubscriber, Active: true})

	w := h.do(http.MethodPost, "/events/1/reservations", h.token(t, a), `{"state":"confirmed"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res domain.Reservation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, domain.StateConfirmed, res.State)
	assert.Equal(t, a.ID, res.MemberID)

	w = h.do(http.MethodPost, "/events/1/reservations", h.token(t, b), `{"state":"CONFIRMED"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRespond_ValidationAndNotFound(t *testing.T) {
	h := newHarness(t, 10)
	m := h.store.AddMember(domain.Member{Name: "A", Tier: domain.TierCasual, Active: true})
	tok := h.token(t, m)

	w := h.do(http.MethodPost, "/events/1/reservations", tok, `{"state":"WAITLISTED"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/events/1/reservations", tok, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/events/99/reservations", tok, `{"state":"CONFIRMED"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodPost, "/events/abc/reservations", tok, `{"state":"CONFIRMED"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWithdraw(t *testing.T) {
	h := newHarness(t, 10)
	m := h.store.AddMember(domain.Member{Name: "A", Tier: domain.TierSubscriber, Active: true})
	tok := h.token(t, m)

	w := h.do(http.MethodDelete, "/events/1/reservations", tok, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodPost, "/events/1/reservations", tok, `{"state":"CONFIRMED"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodDelete, "/events/1/reservations", tok, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestGetEvent_ETag(t *testing.T) {
	h := newHarness(t, 10)

	w := h.do(http.MethodGet, "/events/1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	var sum domain.EventSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, int64(10), sum.Vacancy)

	req := httptest.NewRequest(http.MethodGet, "/events/1", nil)
	req.Header.Set("If-None-Match", etag)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	w = h.do(http.MethodGet, "/events/42", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoster(t *testing.T) {
	h := newHarness(t, 10)
	m := h.store.AddMember(domain.Member{Name: "A", Tier: domain.TierSubscriber, Active: true})

	w := h.do(http.MethodPost, "/events/1/reservations", h.token(t, m), `{"state":"CONFIRMED"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/events/1/reservations", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var list []domain.Reservation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, m.ID, list[0].MemberID)
}

func TestPromote_Auth(t *testing.T) {
	h := newHarness(t, 10)
	member := h.store.AddMember(domain.Member{Name: "A", Tier: domain.TierCasual, Active: true})
	adm := h.store.AddMember(domain.Member{Name: "Root", Tier: domain.TierSubscriber, Role: domain.RoleAdmin, Active: true})

	w := h.do(http.MethodPost, "/scheduler/promote", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/scheduler/promote", h.token(t, member), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodPost, "/scheduler/promote", h.token(t, adm), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodPost, "/scheduler/promote", schedulerToken, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp PromoteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, h.event.ID, resp.Results[0].EventID)
	assert.Equal(t, 0, resp.Results[0].PromotedCount)
}

func TestPromote_PromotesWaitlist(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	m := h.store.AddMember(domain.Member{Name: "A", Tier: domain.TierCasual, Active: true})
	require.NoError(t, h.store.Reservations().Insert(ctx, &domain.Reservation{
		EventID: h.event.ID, MemberID: m.ID, State: domain.StateWaitlisted,
	}))

	w := h.do(http.MethodPost, "/scheduler/promote?threshold_hours=4.5", schedulerToken, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp PromoteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1, resp.Results[0].PromotedCount)

	w = h.do(http.MethodPost, "/scheduler/promote?lookahead_hours=-1", schedulerToken, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/scheduler/promote?lookahead_hours=soon", schedulerToken, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBillingMonthly(t *testing.T) {
	h := newHarness(t, 10)
	member := h.store.AddMember(domain.Member{Name: "A", Tier: domain.TierSubscriber, Active: true})
	adm := h.store.AddMember(domain.Member{Name: "Root", Tier: domain.TierKeeper, Role: domain.RoleAdmin, Active: true})

	w := h.do(http.MethodPost, "/billing/monthly", h.token(t, member), `{"period":"2026-10"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodPost, "/billing/monthly", h.token(t, adm), `{"period":"october"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/billing/monthly", h.token(t, adm), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sum domain.BillingSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, "2026-10", sum.Period)
	assert.Equal(t, 1, sum.Created)
}

func TestAdmin_CreateMemberAndEvents(t *testing.T) {
	h := newHarness(t, 10)
	adm := h.store.AddMember(domain.Member{Name: "Root", Tier: domain.TierKeeper, Role: domain.RoleAdmin, Active: true})
	tok := h.token(t, adm)

	w := h.do(http.MethodPost, "/admin/members", tok, `{"name":"Caio","email":"caio@example.com","tier":"casual"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var m domain.Member
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, domain.TierCasual, m.Tier)

	w = h.do(http.MethodPost, "/admin/members", tok, `{"name":"Caio 2","email":"caio@example.com","tier":"GUEST"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(http.MethodPost, "/admin/events", tok,
		`{"title":"Thursday","first_date":"2026-10-22","start_time":"20:00","max_slots":14,"price_cents":2500,"weeks":4}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp CreateEventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Events, 4)

	w = h.do(http.MethodPost, "/admin/events", tok,
		`{"first_date":"22/10/2026","start_time":"20:00","max_slots":14}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRootMessage(t *testing.T) {
	err := reservation.ErrInvalidState
	assert.Equal(t, err.Error(), rootMessage(err))

	wrapped := fmt.Errorf("%s:%w", "service.reservation.Respond", err)
	assert.Equal(t, err.Error(), rootMessage(wrapped))

	spaced := fmt.Errorf("%s: %w: name is required", "service.admin.CreateMember", errors.New("invalid input"))
	assert.Equal(t, "invalid input: name is required", rootMessage(spaced))
}
