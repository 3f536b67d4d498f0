package nudge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sapliy/loyalty-platform/internal/loyalty"
	"github.com/sapliy/loyalty-platform/pkg/jsonutil"
)

// trackingPixel is a 1x1 transparent GIF.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TriggerTask is the queued manual batch trigger consumed by the service.
type TriggerTask struct {
	TenantID string `json:"tenant_id"`
	Type     Type   `json:"nudge_type"`
	MaxSends int    `json:"max_sends"`
}

// TriggerPublisher enqueues manual batch triggers; the rabbitmq client in
// pkg/messaging satisfies it.
type TriggerPublisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// TriggerQueue is the rabbit queue carrying manual batch triggers.
const TriggerQueue = "nudge.triggers"

// Handlers exposes the tracking surface and the thin admin surface.
type Handlers struct {
	Tracker    *Tracker
	Runner     *Runner
	Configs    ConfigStore
	Aggregator *Aggregator
	Triggers   TriggerPublisher
	Members    loyalty.Reader
	Guard      *CooldownGuard
	Dispatcher *Dispatcher
	Logger     *slog.Logger
}

// Routes mounts the tracking endpoints (unauthenticated by design) and the
// admin endpoints behind the supplied middleware.
func (h *Handlers) Routes(adminAuth mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/nudges/track/open/{token}", h.TrackOpen).Methods(http.MethodGet)
	r.HandleFunc("/nudges/track/click/{token}", h.TrackClick).Methods(http.MethodGet)
	r.HandleFunc("/nudges/track/conversion", h.TrackConversion).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin/nudges").Subrouter()
	if adminAuth != nil {
		admin.Use(adminAuth)
	}
	admin.HandleFunc("/config/{tenant}/{type}", h.GetConfig).Methods(http.MethodGet)
	admin.HandleFunc("/config/{tenant}/{type}", h.UpdateConfig).Methods(http.MethodPut)
	admin.HandleFunc("/run", h.TriggerRun).Methods(http.MethodPost)
	admin.HandleFunc("/send", h.ManualSend).Methods(http.MethodPost)
	admin.HandleFunc("/metrics/{tenant}", h.Metrics).Methods(http.MethodGet)
	admin.HandleFunc("/metrics/{tenant}/by-type", h.MetricsByType).Methods(http.MethodGet)
	admin.HandleFunc("/metrics/{tenant}/daily", h.MetricsDaily).Methods(http.MethodGet)
	admin.HandleFunc("/metrics/{tenant}/roi", h.MetricsROI).Methods(http.MethodGet)

	return r
}

// TrackOpen serves the open pixel. The response is always the pixel, no
// matter what the token was: errors here would surface inside rendered
// messages we can no longer edit.
func (h *Handlers) TrackOpen(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	h.Tracker.RecordOpen(r.Context(), token)

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(trackingPixel)
}

// TrackClick records the click and redirects to the caller-supplied
// destination, defaulting to "/".
func (h *Handlers) TrackClick(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	dest := h.Tracker.RecordClick(r.Context(), token, r.URL.Query().Get("url"))
	http.Redirect(w, r, dest, http.StatusFound)
}

// TrackConversion attributes a purchase to a dispatch by explicit token or by
// member within the attribution window.
func (h *Handlers) TrackConversion(w http.ResponseWriter, r *http.Request) {
	var in ConversionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		jsonutil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.Tracker.RecordConversion(r.Context(), in)
	if err != nil {
		h.Logger.Error("conversion tracking failed", "error", err)
		jsonutil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cfg, err := h.Configs.Get(r.Context(), vars["tenant"], Type(vars["type"]))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, cfg)
}

func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var patch ConfigPatch
	if err := jsonutil.Decode(w, r, &patch); err != nil {
		jsonutil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg, err := h.Configs.Upsert(r.Context(), vars["tenant"], Type(vars["type"]), patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, cfg)
}

// TriggerRun enqueues a manual batch run. When no queue is wired (dev), the
// run happens synchronously instead.
func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var task TriggerTask
	if err := jsonutil.Decode(w, r, &task); err != nil {
		jsonutil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if task.TenantID == "" || !task.Type.Valid() {
		jsonutil.WriteError(w, http.StatusBadRequest, "tenant_id and a valid nudge_type are required")
		return
	}

	if h.Triggers != nil {
		body, _ := json.Marshal(task)
		if err := h.Triggers.Publish(r.Context(), TriggerQueue, body); err != nil {
			h.Logger.Error("enqueue batch trigger", "error", err)
			jsonutil.WriteError(w, http.StatusServiceUnavailable, "trigger queue unavailable")
			return
		}
		jsonutil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	result, err := h.Runner.Process(r.Context(), task.TenantID, task.Type, task.MaxSends)
	if err != nil {
		h.Logger.Error("manual batch run failed", "error", err)
		jsonutil.WriteError(w, http.StatusInternalServerError, "batch run failed")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, result)
}

// ManualSendRequest targets one member directly. Force bypasses the cooldown
// check but not the storage duplicate constraint.
type ManualSendRequest struct {
	TenantID string            `json:"tenant_id"`
	MemberID string            `json:"member_id"`
	Type     Type              `json:"nudge_type"`
	Context  map[string]string `json:"context"`
	Force    bool              `json:"force"`
}

// ManualSend dispatches a single nudge outside the batch path, for support
// workflows and template dry-runs against a real inbox.
func (h *Handlers) ManualSend(w http.ResponseWriter, r *http.Request) {
	var req ManualSendRequest
	if err := jsonutil.Decode(w, r, &req); err != nil {
		jsonutil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" || req.MemberID == "" || !req.Type.Valid() {
		jsonutil.WriteError(w, http.StatusBadRequest, "tenant_id, member_id and a valid nudge_type are required")
		return
	}

	cfg, err := h.Configs.Get(r.Context(), req.TenantID, req.Type)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if !req.Force {
		recent, err := h.Guard.WasRecentlySent(r.Context(), req.TenantID, req.MemberID, req.Type, cfg.CooldownDays)
		if err != nil {
			h.Logger.Error("cooldown check failed", "error", err)
			jsonutil.WriteError(w, http.StatusInternalServerError, "cooldown check failed")
			return
		}
		if recent {
			jsonutil.WriteError(w, http.StatusConflict, "member is in cooldown for this nudge type")
			return
		}
	}

	member, err := h.Members.Member(r.Context(), req.TenantID, req.MemberID)
	if err != nil {
		if errors.Is(err, loyalty.ErrMemberNotFound) {
			jsonutil.WriteError(w, http.StatusNotFound, "member not found")
			return
		}
		h.Logger.Error("member lookup failed", "error", err)
		jsonutil.WriteError(w, http.StatusInternalServerError, "member lookup failed")
		return
	}

	rec, err := h.Dispatcher.Send(r.Context(), *member, cfg, req.Context)
	switch {
	case err == nil:
		jsonutil.WriteJSON(w, http.StatusOK, rec)
	case errors.Is(err, ErrDuplicateDispatch):
		jsonutil.WriteError(w, http.StatusConflict, "a dispatch in this cooldown window already exists")
	case errors.Is(err, ErrTransport):
		jsonutil.WriteError(w, http.StatusBadGateway, "transport send failed")
	default:
		h.Logger.Error("manual send failed", "error", err)
		jsonutil.WriteError(w, http.StatusInternalServerError, "manual send failed")
	}
}

func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	tenant, t, days := metricsParams(r)
	m, err := h.Aggregator.Effectiveness(r.Context(), tenant, t, days)
	if err != nil {
		h.Logger.Error("metrics query failed", "error", err)
		jsonutil.WriteError(w, http.StatusInternalServerError, "metrics unavailable")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, m)
}

func (h *Handlers) MetricsByType(w http.ResponseWriter, r *http.Request) {
	tenant, _, days := metricsParams(r)
	m, err := h.Aggregator.ByType(r.Context(), tenant, days)
	if err != nil {
		h.Logger.Error("metrics query failed", "error", err)
		jsonutil.WriteError(w, http.StatusInternalServerError, "metrics unavailable")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, m)
}

func (h *Handlers) MetricsDaily(w http.ResponseWriter, r *http.Request) {
	tenant, t, days := metricsParams(r)
	m, err := h.Aggregator.Daily(r.Context(), tenant, t, days)
	if err != nil {
		h.Logger.Error("metrics query failed", "error", err)
		jsonutil.WriteError(w, http.StatusInternalServerError, "metrics unavailable")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, m)
}

func (h *Handlers) MetricsROI(w http.ResponseWriter, r *http.Request) {
	tenant, _, days := metricsParams(r)
	cost, err := strconv.ParseFloat(r.URL.Query().Get("cost"), 64)
	if err != nil || cost < 0 {
		cost = 0
	}
	m, err := h.Aggregator.ROI(r.Context(), tenant, days, cost)
	if err != nil {
		h.Logger.Error("metrics query failed", "error", err)
		jsonutil.WriteError(w, http.StatusInternalServerError, "metrics unavailable")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, m)
}

func metricsParams(r *http.Request) (tenant string, t Type, days int) {
	tenant = mux.Vars(r)["tenant"]
	t = Type(r.URL.Query().Get("type"))
	if !t.Valid() {
		t = ""
	}
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days <= 0 {
		days = 30
	}
	return tenant, t, days
}

func writeDomainError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		jsonutil.WriteError(w, http.StatusUnprocessableEntity, verr.Error())
	case errors.Is(err, ErrNotFound):
		jsonutil.WriteError(w, http.StatusNotFound, "not found")
	default:
		jsonutil.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("internal error: %v", err))
	}
}
