// Package api exposes the engine's public operations over a local HTTP
// interface for the browser UI and other collaborators.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"crm-callengine/internal/device"
	"crm-callengine/internal/engine"
	"crm-callengine/pkg/types"
)

// CallEngine is the engine surface the API exposes. Satisfied by
// engine.Engine.
type CallEngine interface {
	PlaceCall(ctx context.Context, number, displayName string, autoTrigger bool, sourceTag string) bool
	EndCall() bool
	AcceptIncoming(ctx context.Context) bool
	RejectIncoming() bool
	SendDigit(digit string) bool
	ActiveState() types.CallState
	Contexts() *types.ContextStore
	Guard() *engine.Guard
}

// RecentCallSource lists persisted recent calls. May be nil, in which case
// the in-memory history is not served.
type RecentCallSource interface {
	RecentCalls(limit int) ([]types.CallRecord, error)
}

// DeviceStatus reports the device session lifecycle state for the health
// endpoint. Satisfied by device.Manager; may be nil.
type DeviceStatus interface {
	State() device.State
}

// BrokerStatus reports event bus connectivity for the health endpoint.
// Satisfied by mqtt.Client; nil when event publishing is disabled.
type BrokerStatus interface {
	IsConnected() bool
}

// Server is the local HTTP API.
type Server struct {
	engine CallEngine
	store  RecentCallSource
	device DeviceStatus
	broker BrokerStatus
	secret string
	server *http.Server
}

// NewServer creates the API server. An empty secret disables the shared
// secret check.
func NewServer(eng CallEngine, store RecentCallSource, dev DeviceStatus, broker BrokerStatus, port int, secret string) *Server {
	s := &Server{
		engine: eng,
		store:  store,
		device: dev,
		broker: broker,
		secret: secret,
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(s.checkSecret)

	r.Get("/health", s.handleHealth)
	r.Post("/calls", s.handlePlaceCall)
	r.Delete("/calls/active", s.handleEndCall)
	r.Post("/calls/active/accept", s.handleAccept)
	r.Post("/calls/active/reject", s.handleReject)
	r.Post("/calls/active/digits", s.handleSendDigit)
	r.Get("/calls/recent", s.handleRecentCalls)
	r.Post("/context", s.handleSetContext)
	r.Get("/context", s.handleGetContext)
	r.Post("/activity", s.handleActivity)

	return r
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	log.Printf("API listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// checkSecret rejects requests that do not carry the shared secret.
func (s *Server) checkSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret != "" && r.URL.Query().Get("secret") != s.secret {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "invalid secret"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type placeCallRequest struct {
	Number      string `json:"number"`
	DisplayName string `json:"display_name"`
	AutoTrigger bool   `json:"auto_trigger"`
	SourceTag   string `json:"source_tag"`
}

func (p *placeCallRequest) Bind(r *http.Request) error {
	if p.Number == "" {
		return fmt.Errorf("number is required")
	}
	return nil
}

func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	req := &placeCallRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}

	if req.SourceTag == engine.SourceUserClick {
		s.engine.Guard().NoteUserClick()
	}

	placed := s.engine.PlaceCall(r.Context(), req.Number, req.DisplayName, req.AutoTrigger, req.SourceTag)
	render.JSON(w, r, map[string]any{
		"placed": placed,
		"state":  s.engine.ActiveState(),
	})
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	ended := s.engine.EndCall()
	render.JSON(w, r, map[string]any{"ended": ended})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	accepted := s.engine.AcceptIncoming(r.Context())
	if !accepted {
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, map[string]string{"error": "no ringing call"})
		return
	}
	render.JSON(w, r, map[string]any{"accepted": true})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	rejected := s.engine.RejectIncoming()
	if !rejected {
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, map[string]string{"error": "no ringing call"})
		return
	}
	render.JSON(w, r, map[string]any{"rejected": true})
}

type digitRequest struct {
	Digit string `json:"digit"`
}

func (d *digitRequest) Bind(r *http.Request) error {
	if len(d.Digit) != 1 {
		return fmt.Errorf("digit must be a single character")
	}
	return nil
}

func (s *Server) handleSendDigit(w http.ResponseWriter, r *http.Request) {
	req := &digitRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}

	sent := s.engine.SendDigit(req.Digit)
	render.JSON(w, r, map[string]any{"sent": sent})
}

func (s *Server) handleRecentCalls(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		render.JSON(w, r, []types.CallRecord{})
		return
	}

	records, err := s.store.RecentCalls(50)
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "failed to load recent calls"})
		return
	}
	if records == nil {
		records = []types.CallRecord{}
	}
	render.JSON(w, r, records)
}

type contextRequest struct {
	types.ContextUpdate
}

func (c *contextRequest) Bind(r *http.Request) error {
	return nil
}

// handleSetContext lets a detail page pre-seed identity before a
// click-to-call.
func (s *Server) handleSetContext(w http.ResponseWriter, r *http.Request) {
	req := &contextRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}

	updated := s.engine.Contexts().Apply(req.ContextUpdate)
	render.JSON(w, r, updated)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.engine.Contexts().Get())
}

type activityRequest struct {
	Type string `json:"type"`
}

func (a *activityRequest) Bind(r *http.Request) error {
	if a.Type != "click" && a.Type != "typing" {
		return fmt.Errorf("type must be click or typing")
	}
	return nil
}

// handleActivity records user activity signals consumed by the anti-loop
// guard.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	req := &activityRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}

	switch req.Type {
	case "click":
		s.engine.Guard().NoteUserClick()
	case "typing":
		s.engine.Guard().NoteTyping()
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status": "ok",
		"state":  s.engine.ActiveState(),
	}
	if s.device != nil {
		payload["device"] = s.device.State()
	}
	mqttConnected := false
	if s.broker != nil {
		mqttConnected = s.broker.IsConnected()
	}
	payload["mqtt_connected"] = mqttConnected
	render.JSON(w, r, payload)
}
