package nudge

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/sapliy/loyalty-platform/internal/loyalty"
	"github.com/sapliy/loyalty-platform/pkg/apikey"
)

// memTriggers captures enqueued batch triggers.
type memTriggers struct {
	queues []string
	bodies [][]byte
}

func (m *memTriggers) Publish(_ context.Context, queue string, body []byte) error {
	m.queues = append(m.queues, queue)
	m.bodies = append(m.bodies, body)
	return nil
}

type handlerFixture struct {
	handlers  *Handlers
	history   *memHistory
	configs   *memConfigs
	triggers  *memTriggers
	transport *mockTransport
}

func newHandlerFixture(adminAuth mux.MiddlewareFunc) (*handlerFixture, *mux.Router) {
	history := newMemHistory()
	configs := newMemConfigs()
	triggers := &memTriggers{}
	transport := &mockTransport{}
	logger := slog.New(slog.DiscardHandler)

	members := &loyalty.MockReader{
		MemberFunc: func(_ context.Context, tenantID, memberID string) (*loyalty.Member, error) {
			if memberID != "m1" {
				return nil, loyalty.ErrMemberNotFound
			}
			return &loyalty.Member{ID: "m1", TenantID: tenantID, Email: "m1@example.com", Name: "Member One"}, nil
		},
	}

	f := &handlerFixture{
		handlers: &Handlers{
			Tracker:    NewTracker(history, nil, logger),
			Configs:    configs,
			Aggregator: NewAggregator(history),
			Triggers:   triggers,
			Members:    members,
			Guard:      NewCooldownGuard(history, nil, logger),
			Dispatcher: NewDispatcher(history, transport, nil, logger),
			Logger:     logger,
		},
		history:   history,
		configs:   configs,
		triggers:  triggers,
		transport: transport,
	}
	return f, f.handlers.Routes(adminAuth)
}

func (f *handlerFixture) seed(t *testing.T, token string) {
	t.Helper()
	rec := &DispatchRecord{
		ID: "d1", TenantID: "t1", MemberID: "m1", Type: PointsExpiring,
		SentAt: time.Now().Add(-time.Hour), Status: StatusSent, TrackingToken: token,
	}
	if err := f.history.Insert(context.Background(), rec, 7); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestTrackOpenServesPixel(t *testing.T) {
	f, router := newHandlerFixture(nil)
	f.seed(t, "tok-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nudges/track/open/tok-1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "image/gif" {
		t.Errorf("content-type = %s", got)
	}
	if !bytes.Equal(rr.Body.Bytes(), trackingPixel) {
		t.Error("body is not the tracking pixel")
	}

	rec, _ := f.history.GetByToken(context.Background(), "tok-1")
	if rec.OpenedAt == nil {
		t.Error("opened_at not recorded")
	}
}

func TestTrackOpenUnknownTokenStillServesPixel(t *testing.T) {
	_, router := newHandlerFixture(nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nudges/track/open/ghost", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, unknown tokens must not error", rr.Code)
	}
	if !bytes.Equal(rr.Body.Bytes(), trackingPixel) {
		t.Error("body is not the tracking pixel")
	}
}

func TestTrackClickRedirects(t *testing.T) {
	f, router := newHandlerFixture(nil)
	f.seed(t, "tok-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nudges/track/click/tok-1?url=https%3A%2F%2Fshop.example%2Fpromo", nil))

	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "https://shop.example/promo" {
		t.Errorf("location = %s", loc)
	}

	rec, _ := f.history.GetByToken(context.Background(), "tok-1")
	if rec.ClickedAt == nil || rec.OpenedAt == nil {
		t.Error("click must set clicked_at and backfill opened_at")
	}
}

func TestTrackClickDefaultsDestination(t *testing.T) {
	_, router := newHandlerFixture(nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nudges/track/click/ghost", nil))

	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/" {
		t.Errorf("location = %s, want /", loc)
	}
}

func TestTrackConversionByToken(t *testing.T) {
	f, router := newHandlerFixture(nil)
	f.seed(t, "tok-1")

	body := strings.NewReader(`{"tracking_id":"tok-1","order_id":"ord-1","order_total":42.50}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/nudges/track/conversion", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var res ConversionResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Found || res.Record.OrderTotal != 42.50 {
		t.Errorf("result = %+v", res)
	}
}

func TestGetConfigReturnsDefaults(t *testing.T) {
	_, router := newHandlerFixture(nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/nudges/config/t1/points_expiring", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var cfg Config
	if err := json.Unmarshal(rr.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !cfg.Enabled || cfg.CooldownDays != 7 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestUpdateConfig(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"valid patch", "/admin/nudges/config/t1/points_expiring", `{"cooldown_days":10}`, http.StatusOK},
		{"negative cooldown", "/admin/nudges/config/t1/points_expiring", `{"cooldown_days":-1}`, http.StatusUnprocessableEntity},
		{"threshold above one", "/admin/nudges/config/t1/tier_progress", `{"progress_threshold":1.5}`, http.StatusUnprocessableEntity},
		{"unknown type", "/admin/nudges/config/t1/mystery", `{"cooldown_days":5}`, http.StatusUnprocessableEntity},
		{"malformed body", "/admin/nudges/config/t1/points_expiring", `{"cooldown_days":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := newHandlerFixture(nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, tt.path, strings.NewReader(tt.body)))
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}
}

func TestTriggerRunEnqueues(t *testing.T) {
	f, router := newHandlerFixture(nil)

	body := strings.NewReader(`{"tenant_id":"t1","nudge_type":"points_expiring","max_sends":50}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/nudges/run", body))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if len(f.triggers.queues) != 1 || f.triggers.queues[0] != TriggerQueue {
		t.Fatalf("queues = %v", f.triggers.queues)
	}
	var task TriggerTask
	if err := json.Unmarshal(f.triggers.bodies[0], &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.TenantID != "t1" || task.Type != PointsExpiring || task.MaxSends != 50 {
		t.Errorf("task = %+v", task)
	}
}

func TestTriggerRunRejectsBadInput(t *testing.T) {
	_, router := newHandlerFixture(nil)

	for _, body := range []string{`{"tenant_id":"","nudge_type":"points_expiring"}`, `{"tenant_id":"t1","nudge_type":"mystery"}`} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/nudges/run", strings.NewReader(body)))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d for %s, want 400", rr.Code, body)
		}
	}
}

func TestManualSend(t *testing.T) {
	f, router := newHandlerFixture(nil)

	body := strings.NewReader(`{"tenant_id":"t1","member_id":"m1","nudge_type":"points_expiring","context":{"name":"Member One"}}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/nudges/send", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if f.transport.count() != 1 {
		t.Fatalf("transport saw %d sends, want 1", f.transport.count())
	}

	// A second manual send hits the cooldown and must not reach the transport.
	body = strings.NewReader(`{"tenant_id":"t1","member_id":"m1","nudge_type":"points_expiring"}`)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/nudges/send", body))
	if rr.Code != http.StatusConflict {
		t.Errorf("repeat status = %d, want 409", rr.Code)
	}
	if f.transport.count() != 1 {
		t.Errorf("cooldown bypassed, transport saw %d sends", f.transport.count())
	}
}

func TestManualSendUnknownMember(t *testing.T) {
	_, router := newHandlerFixture(nil)

	body := strings.NewReader(`{"tenant_id":"t1","member_id":"ghost","nudge_type":"points_expiring"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/nudges/send", body))

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	const (
		jwtSecret = "jwt-secret"
		keySecret = "key-secret"
	)
	rawKey, keyHash, err := apikey.GenerateKey(apikey.AdminPrefix, keySecret)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth := AdminAuth(jwtSecret, keyHash, keySecret)
	_, router := newHandlerFixture(auth)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"no credentials", "", "", http.StatusUnauthorized},
		{"wrong api key", "X-API-Key", "lk_admin_wrong", http.StatusUnauthorized},
		{"valid api key", "X-API-Key", rawKey, http.StatusOK},
		{"garbage bearer", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"valid bearer", "Authorization", "Bearer " + signed, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/nudges/config/t1/points_expiring", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestTrackingSurfaceBypassesAdminAuth(t *testing.T) {
	auth := AdminAuth("jwt-secret", "", "")
	f, router := newHandlerFixture(auth)
	f.seed(t, "tok-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nudges/track/open/tok-1", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("tracking endpoint behind auth: status = %d", rr.Code)
	}
}
