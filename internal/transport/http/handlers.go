package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/snehjoshi/notifyq/internal/service"
	"github.com/snehjoshi/notifyq/internal/types"
)

// maxAuditLimit bounds how many records a single GET /audit call can
// request, regardless of the limit query parameter.
const maxAuditLimit = 500

// validName returns true when name is safe to use as a map key / path
// component. It rejects strings that are empty, too long, or that look like
// path-traversal attempts, even though nothing here actually touches a
// filesystem path.
func validName(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	if strings.ContainsAny(s, "/\\\x00") {
		return false
	}
	if s == "." || s == ".." {
		return false
	}
	return true
}

// Handler groups all HTTP request handlers around a Service.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a Handler backed by svc.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

type createCheckableRequest struct {
	Name string `json:"name"`
}

type createNotificationRequest struct {
	Name            string  `json:"name"`
	Checkable       string  `json:"checkable"`
	IntervalSeconds float64 `json:"interval_seconds"`
	Zone            string  `json:"zone"`
}

type stateChangeRequest struct {
	Checkable string `json:"checkable"`
	StateType string `json:"state_type"` // "soft" or "hard"
	StateRaw  int    `json:"state_raw"`
	Output    string `json:"output"`
}

type flappingRequest struct {
	Checkable string `json:"checkable"`
	Flapping  bool   `json:"flapping"`
}

type ackRequest struct {
	Checkable string `json:"checkable"`
	Author    string `json:"author"`
	Text      string `json:"text"`
}

type configChangeRequest struct {
	Notification string `json:"notification"`
	Active       *bool  `json:"active,omitempty"`
	Paused       *bool  `json:"paused,omitempty"`
}

type checkableResponse struct {
	Name          string `json:"name"`
	StateType     string `json:"state_type"`
	LastStateType string `json:"last_state_type"`
	StateRaw      int    `json:"state_raw"`
	LastStateRaw  int    `json:"last_state_raw"`
	Reachable     bool   `json:"reachable"`
	InDowntime    bool   `json:"in_downtime"`
	Acknowledged  bool   `json:"acknowledged"`
	Flapping      bool   `json:"flapping"`
	Volatile      bool   `json:"volatile"`
}

type notificationResponse struct {
	Name                  string  `json:"name"`
	Checkable             string  `json:"checkable"`
	Active                bool    `json:"active"`
	Paused                bool    `json:"paused"`
	Zone                  string  `json:"zone"`
	IntervalSeconds       float64 `json:"interval_seconds"`
	NextNotificationTime  float64 `json:"next_notification_time"`
}

// ─── Checkables / Notifications ──────────────────────────────────────────────

func (h *Handler) CreateCheckable(w http.ResponseWriter, r *http.Request) {
	var req createCheckableRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validName(req.Name) {
		writeError(w, http.StatusBadRequest, errors.New("name is required and must be a safe identifier"))
		return
	}
	c := h.svc.EnsureCheckable(req.Name)
	writeJSON(w, http.StatusCreated, checkableToResponse(c))
}

func (h *Handler) GetCheckable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	c, err := h.svc.Checkable(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, checkableToResponse(c))
}

func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validName(req.Name) || !validName(req.Checkable) {
		writeError(w, http.StatusBadRequest, errors.New("name and checkable are required and must be safe identifiers"))
		return
	}
	if req.IntervalSeconds < 0 {
		writeError(w, http.StatusBadRequest, errors.New("interval_seconds must be >= 0"))
		return
	}
	n, err := h.svc.CreateNotification(req.Name, req.Checkable, req.IntervalSeconds, req.Zone)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, notificationToResponse(n))
}

func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	n, err := h.svc.Notification(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, notificationToResponse(n))
}

// ─── EventIngress ─────────────────────────────────────────────────────────────

func (h *Handler) StateChange(w http.ResponseWriter, r *http.Request) {
	var req stateChangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := parseStateType(req.StateType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.svc.StateChange(req.Checkable, st, req.StateRaw, req.Output); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) FlappingChanged(w http.ResponseWriter, r *http.Request) {
	var req flappingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.FlappingChanged(req.Checkable, req.Flapping); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) AcknowledgementSet(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.AcknowledgementSet(req.Checkable, req.Author, req.Text); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) ConfigObjectChange(w http.ResponseWriter, r *http.Request) {
	var req configChangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.ConfigObjectChange(req.Notification, req.Active, req.Paused); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ─── StatsSurface / audit ─────────────────────────────────────────────────────

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.svc.Metrics().Handler().ServeHTTP(w, r)
}

func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	records, err := h.svc.AuditRecent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseStateType(s string) (types.StateType, error) {
	switch s {
	case "soft":
		return types.StateSoft, nil
	case "hard":
		return types.StateHard, nil
	default:
		return 0, fmt.Errorf("state_type must be %q or %q, got %q", "soft", "hard", s)
	}
}

func checkableToResponse(c *types.Checkable) checkableResponse {
	return checkableResponse{
		Name:          c.Name(),
		StateType:     c.StateType().String(),
		LastStateType: c.LastStateType().String(),
		StateRaw:      c.StateRaw(),
		LastStateRaw:  c.LastStateRaw(),
		Reachable:     c.IsReachable(types.DependencyNotification),
		InDowntime:    c.IsInDowntime(),
		Acknowledged:  c.IsAcknowledged(),
		Flapping:      c.IsFlapping(),
		Volatile:      c.IsVolatile(),
	}
}

func notificationToResponse(n *types.Notification) notificationResponse {
	return notificationResponse{
		Name:                 n.Name(),
		Checkable:            n.Checkable().Name(),
		Active:               n.IsActive(),
		Paused:               n.IsPaused(),
		Zone:                 n.ZoneName(),
		IntervalSeconds:      n.Interval(),
		NextNotificationTime: n.NextNotificationTime(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}
