// Package server exposes turns over HTTP, streaming their events as Server-Sent
// Events.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/go-go-golems/sectionstream/pkg/events"
	"github.com/go-go-golems/sectionstream/pkg/inference"
	"github.com/go-go-golems/sectionstream/pkg/inference/engine"
	"github.com/go-go-golems/sectionstream/pkg/inference/session"
	"github.com/go-go-golems/sectionstream/pkg/rules"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const SessionHeader = "X-Session-Id"

type Server struct {
	store    *session.Store
	table    *channels.Table
	gatherer prometheus.Gatherer
	// mirror, when set, receives every event of every turn as well (e.g. a watermill sink).
	mirror events.EventSink
}

type Option func(*Server)

func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func WithMirror(sink events.EventSink) Option {
	return func(s *Server) {
		s.mirror = sink
	}
}

func New(store *session.Store, table *channels.Table, options ...Option) *Server {
	s := &Server{
		store: store,
		table: table,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turns", s.handleTurn)
	mux.HandleFunc("POST /v1/decide", s.handleDecide)
	mux.HandleFunc("GET /v1/channels", s.handleChannels)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /healthz", handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// NewHTTPServer wraps the handler with timeouts suited for long streaming responses.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type TurnRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

func decodeTurnRequest(r *http.Request) (TurnRequest, error) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errors.Wrap(err, "invalid request body")
	}
	if req.Message == "" {
		return req, errors.New("message is required")
	}
	return req, nil
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTurnRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess := s.store.GetOrCreate(req.SessionID)

	sinks := []events.EventSink{inference.NewSSESink(w)}
	if s.mirror != nil {
		sinks = append(sinks, s.mirror)
	}

	// headers must be in place before the turn goroutine writes its first frame
	inference.PrepareSSEHeaders(w)
	w.Header().Set(SessionHeader, sess.SessionID)

	h, err := sess.StartTurn(r.Context(), req.Message, sinks...)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrSessionAlreadyActive) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	log.Info().
		Str("session_id", sess.SessionID).
		Str("turn_id", h.TurnID).
		Strs("requested", requestedNames(h.Decision)).
		Msg("turn started")

	// the turn runs under the request context, a client going away cancels it
	done, err := h.WaitContext(r.Context())
	lg := log.With().
		Str("session_id", sess.SessionID).
		Str("turn_id", h.TurnID).
		Str("outcome", h.Outcome()).
		Dur("elapsed", h.Elapsed()).
		Logger()
	if err != nil {
		// the error event has already been sent in-stream
		lg.Warn().Err(err).Msg("turn did not finish")
		return
	}
	lg.Info().Int("fragments", done.Fragments).Int("bytes", done.Bytes).Msg("turn done")
}

func requestedNames(d rules.Decision) []string {
	var ret []string
	for name, cd := range d.Channels {
		if cd.Request {
			ret = append(ret, string(name))
		}
	}
	sort.Strings(ret)
	return ret
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTurnRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	decision, err := s.store.Decide(req.SessionID, req.Message)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, ok := s.store.Get(req.SessionID); ok {
		w.Header().Set(SessionHeader, req.SessionID)
	}
	writeJSON(w, decision)
}

type channelInfo struct {
	Name        channels.Name `json:"name"`
	Open        string        `json:"open"`
	Close       string        `json:"close"`
	Mode        string        `json:"mode"`
	Shape       string        `json:"shape"`
	Optional    bool          `json:"optional"`
	Description string        `json:"description,omitempty"`
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	out := make([]channelInfo, 0, len(s.table.Specs()))
	for _, spec := range s.table.Specs() {
		out = append(out, channelInfo{
			Name:        spec.Name,
			Open:        spec.Open,
			Close:       spec.Close,
			Mode:        spec.Mode.String(),
			Shape:       spec.Shape.String(),
			Optional:    spec.Optional,
			Description: spec.Description,
		})
	}
	writeJSON(w, out)
}

type SessionInfo struct {
	SessionID  string               `json:"session_id"`
	Running    bool                 `json:"running"`
	ActiveTurn string               `json:"active_turn,omitempty"`
	State      rules.SessionState   `json:"state"`
	History    []engine.Message     `json:"history"`
	Turns      []session.TurnRecord `json:"turns"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	info := SessionInfo{
		SessionID: sess.SessionID,
		Running:   sess.IsRunning(),
		State:     sess.State(),
		History:   sess.History(),
		Turns:     sess.Turns(),
	}
	if h := sess.ActiveTurn(); h != nil {
		info.ActiveTurn = h.TurnID
	}
	writeJSON(w, info)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sess, ok := s.store.Get(id); ok {
		_ = sess.CancelActive()
		s.store.Delete(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"status": "ok", "timestamp": %q}`, time.Now().UTC().Format(time.RFC3339))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("could not write response")
	}
}
