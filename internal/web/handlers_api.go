package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"hubspace-go-home/internal/auth"
	"hubspace-go-home/internal/capability"
	"hubspace-go-home/internal/cloud"
	"hubspace-go-home/internal/coordinator"
	"hubspace-go-home/internal/store"
)

// accessoryView is an accessory with its control surfaces expanded.
type accessoryView struct {
	*store.Accessory
	Surfaces []coordinator.Surface `json:"surfaces"`
}

func newAccessoryView(acc *store.Accessory) accessoryView {
	v := accessoryView{Accessory: acc, Surfaces: []coordinator.Surface{}}
	if acc.Context != nil {
		v.Surfaces = coordinator.Surfaces(acc.Context)
	}
	return v
}

// readingResponse is the result of a capability read.
type readingResponse struct {
	AccessoryID string                  `json:"accessory_id"`
	Query       string                  `json:"query"`
	Key         capability.AttributeKey `json:"key,omitempty"`
	Status      string                  `json:"status"`
	Raw         string                  `json:"raw,omitempty"`
	Boolean     *bool                   `json:"boolean,omitempty"`
	Integer     *int64                  `json:"integer,omitempty"`
}

// writeRequest is the body of a capability write.
type writeRequest struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"accessories": len(s.ctrl.Accessories()),
	})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleAPIListAccessories(w http.ResponseWriter, r *http.Request) {
	list := s.ctrl.Accessories()
	views := make([]accessoryView, 0, len(list))
	for _, acc := range list {
		views = append(views, newAccessoryView(acc))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIGetAccessory(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.ctrl.Accessory(chi.URLParam(r, "id"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "accessory not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, newAccessoryView(acc))
}

func (s *Server) handleAPIDiscovery(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.Reconcile(r.Context())
	if err != nil {
		s.writeError(w, "discovery", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAPIReadCapability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q, err := parseQuery(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	reading, err := s.ctrl.Read(r.Context(), id, q)
	if err != nil {
		s.writeError(w, "read capability", err)
		return
	}

	resp := readingResponse{
		AccessoryID: id,
		Query:       q.String(),
		Key:         reading.Key,
		Status:      reading.Status.String(),
		Raw:         reading.Raw,
	}
	if b, ok := reading.Boolean(); ok {
		resp.Boolean = &b
	}
	if n, ok := reading.Integer(); ok {
		resp.Integer = &n
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIWriteCapability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q, err := parseQuery(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var req writeRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	value, err := req.value()
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.ctrl.Write(r.Context(), id, q, value); err != nil {
		s.writeError(w, "write capability", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "query": q.String(), "value": value.String()})
}

// parseQuery builds a capability query from the route and the instance and
// index query parameters.
func parseQuery(r *http.Request) (capability.Query, error) {
	name := chi.URLParam(r, "capability")
	c, ok := capability.Parse(name)
	if !ok {
		return capability.Query{}, fmt.Errorf("unknown capability %q", name)
	}
	q := capability.Query{Capability: c, Instance: r.URL.Query().Get("instance")}
	if raw := r.URL.Query().Get("index"); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 0 {
			return capability.Query{}, fmt.Errorf("invalid index %q", raw)
		}
		q.Index = capability.At(idx)
	}
	return q, nil
}

func (req writeRequest) value() (cloud.Value, error) {
	if len(req.Value) == 0 {
		return cloud.Value{}, errors.New("value is required")
	}
	switch req.Type {
	case "boolean":
		var b bool
		if err := json.Unmarshal(req.Value, &b); err != nil {
			return cloud.Value{}, errors.New("value must be a boolean")
		}
		return cloud.Bool(b), nil
	case "integer":
		n, err := decodeInteger(req.Value)
		if err != nil {
			return cloud.Value{}, err
		}
		if n < 0 {
			return cloud.Value{}, errors.New("value must not be negative")
		}
		return cloud.Int(n), nil
	case "string", "":
		var str string
		if err := json.Unmarshal(req.Value, &str); err != nil {
			return cloud.Value{}, errors.New("value must be a string")
		}
		return cloud.String(str), nil
	default:
		return cloud.Value{}, fmt.Errorf("unknown value type %q", req.Type)
	}
}

// maxExactFloat is the largest integer a float64 holds exactly.
const maxExactFloat = 1 << 53

// decodeInteger reads a JSON number as an int64 without passing it through
// float64. Exponent and fractional forms are accepted only when they are
// whole and exactly representable.
func decodeInteger(data json.RawMessage) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, errors.New("value must be an integer")
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, errors.New("value must be an integer")
	}
	n, err := num.Int64()
	if err == nil {
		return n, nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, errors.New("value out of range")
	}
	f, err := num.Float64()
	if err != nil || math.Abs(f) > maxExactFloat {
		return 0, errors.New("value out of range")
	}
	if f != math.Trunc(f) {
		return 0, errors.New("value must be an integer")
	}
	return int64(f), nil
}

// statusFor maps a control-path error onto an HTTP status.
func statusFor(err error) int {
	var apiErr *cloud.APIError
	switch {
	case errors.Is(err, coordinator.ErrAccessoryNotFound),
		errors.Is(err, capability.ErrCapabilityNotSupported):
		return http.StatusNotFound
	case errors.Is(err, cloud.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, auth.ErrAuthenticationFailed),
		errors.Is(err, cloud.ErrUnauthorized):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, cloud.ErrRemoteRejected),
		errors.Is(err, cloud.ErrTransport),
		errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	var apiErr *cloud.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(apiErr.RetryAfter.Seconds()))))
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(op, "err", err)
	} else {
		s.logger.Debug(op, "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
