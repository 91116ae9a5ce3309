// Package api serves the linkd HTTP surface: connection lifecycle operations,
// graph listings, notifications and event ingestion for the identity and
// posts services.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmax-ai/linkd/pkg/bus"
	"github.com/rmax-ai/linkd/pkg/engine"
	"github.com/rmax-ai/linkd/pkg/errs"
	"github.com/rmax-ai/linkd/pkg/notify"
	"github.com/rmax-ai/linkd/pkg/store"
)

// WriteTimeout bounds one response. Lifecycle calls must fit inside it; see
// engine.Config.Budget.
const WriteTimeout = 10 * time.Second

// Leadership reports the relay election state for health checks.
type Leadership interface {
	IsLeader() bool
	Epoch() int64
}

// Options selects which services the server hosts. A nil field leaves its
// routes unregistered.
type Options struct {
	Addr          string
	Engine        *engine.Engine
	Notifications notify.Store
	Publisher     bus.Publisher
	Election      Leadership
}

// Server encapsulates the HTTP API server
type Server struct {
	engine   *engine.Engine
	notes    notify.Store
	pub      bus.Publisher
	election Leadership
	handler  http.Handler
	server   *http.Server
}

// NewServer creates a new API server instance
func NewServer(opts Options) *Server {
	s := &Server{
		engine:   opts.Engine,
		notes:    opts.Notifications,
		pub:      opts.Publisher,
		election: opts.Election,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.engine != nil {
		mux.HandleFunc("POST /v1/connections/request/{userId}", s.handleSendRequest)
		mux.HandleFunc("POST /v1/connections/accept/{userId}", s.handleAcceptRequest)
		mux.HandleFunc("POST /v1/connections/reject/{userId}", s.handleRejectRequest)
		mux.HandleFunc("POST /v1/connections/remove/{userId}", s.handleRemoveConnection)
		mux.HandleFunc("GET /v1/connections/first-degree", s.handleFirstDegree)
		mux.HandleFunc("GET /v1/connections/received", s.handlePendingReceived)
		mux.HandleFunc("GET /v1/connections/sent", s.handlePendingSent)
		mux.HandleFunc("GET /v1/connections/suggestions", s.handleSuggestions)
		mux.HandleFunc("GET /v1/connections/relation/{userId}", s.handleRelation)
		mux.HandleFunc("GET /v1/connections/graph", s.handleGraph)
	}
	if s.notes != nil {
		mux.HandleFunc("GET /v1/notifications", s.handleNotifications)
	}
	if s.pub != nil {
		mux.HandleFunc("POST /v1/events/user-created", s.handleUserCreated)
		mux.HandleFunc("POST /v1/events/post-created", s.handlePostCreated)
		mux.HandleFunc("POST /v1/events/post-liked", s.handlePostLiked)
	}

	// Middleware: Logging, Panic Recovery, Security Headers, Actor
	s.handler = withLogging(withRecovery(withSecureHeaders(withActor(mux))))

	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:8095"
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  15 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start runs the HTTP server (blocking)
func (s *Server) Start() error {
	slog.Info("server_starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	slog.Info("server_stopping")
	return s.server.Shutdown(ctx)
}

// SuccessResponse answers lifecycle operations.
type SuccessResponse struct {
	Success       bool `json:"success"`
	EventsPending bool `json:"events_pending,omitempty"`
}

// EventAccepted answers event ingestion.
type EventAccepted struct {
	EventID store.EventID `json:"event_id"`
	Topic   string        `json:"topic"`
}

// HealthResponse answers GET /v1/health.
type HealthResponse struct {
	Status   string   `json:"status"`
	Services []string `json:"services"`
	Leader   *bool    `json:"leader,omitempty"`
	Epoch    int64    `json:"epoch,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Services: []string{}}
	if s.engine != nil {
		resp.Services = append(resp.Services, "connections")
	}
	if s.notes != nil {
		resp.Services = append(resp.Services, "notifications")
	}
	if s.election != nil {
		leader := s.election.IsLeader()
		resp.Leader = &leader
		resp.Epoch = s.election.Epoch()
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func pathUserID(r *http.Request) (int64, error) {
	raw := r.PathValue("userId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.E(errs.KindBadRequest, "api.pathUserID", fmt.Sprintf("invalid user id %q", raw))
	}
	return id, nil
}

// lifecycle adapts one engine transition to a handler.
func (s *Server) lifecycle(op func(ctx context.Context, actorID, userID int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := pathUserID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := op(r.Context(), actorFrom(r.Context()), userID); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, SuccessResponse{Success: true})
	}
}

func (s *Server) handleSendRequest(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(s.engine.SendRequest)(w, r)
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(s.engine.AcceptRequest)(w, r)
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(s.engine.RejectRequest)(w, r)
}

func (s *Server) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(s.engine.RemoveConnection)(w, r)
}

// listing adapts one engine read to a handler.
func (s *Server) listing(read func(ctx context.Context, actorID int64) ([]store.Person, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		persons, err := read(r.Context(), actorFrom(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, persons)
	}
}

func (s *Server) handleFirstDegree(w http.ResponseWriter, r *http.Request) {
	s.listing(s.engine.FirstDegreeConnections)(w, r)
}

func (s *Server) handlePendingReceived(w http.ResponseWriter, r *http.Request) {
	s.listing(s.engine.PendingReceived)(w, r)
}

func (s *Server) handlePendingSent(w http.ResponseWriter, r *http.Request) {
	s.listing(s.engine.PendingSent)(w, r)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, errs.E(errs.KindBadRequest, "api.handleSuggestions", "invalid limit"))
			return
		}
		limit = n
	}
	s.listing(func(ctx context.Context, actorID int64) ([]store.Person, error) {
		return s.engine.Suggestions(ctx, actorID, limit)
	})(w, r)
}

func (s *Server) handleRelation(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rel, err := s.engine.Relation(r.Context(), actorFrom(r.Context()), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rel)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.Neighborhood(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, n)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := notify.List(r.Context(), s.notes, actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleUserCreated(w http.ResponseWriter, r *http.Request) {
	var p store.UserCreatedPayload
	if !decodeBody(w, r, &p) {
		return
	}
	if p.UserID <= 0 {
		writeError(w, r, errs.E(errs.KindBadRequest, "api.handleUserCreated", "user_id is required"))
		return
	}
	s.ingest(w, r, store.EventTypeUserCreated, "identity", strconv.FormatInt(p.UserID, 10), p)
}

func (s *Server) handlePostCreated(w http.ResponseWriter, r *http.Request) {
	var p store.PostCreatedPayload
	if !decodeBody(w, r, &p) {
		return
	}
	if p.CreatorID <= 0 || p.PostID <= 0 {
		writeError(w, r, errs.E(errs.KindBadRequest, "api.handlePostCreated", "creator_id and post_id are required"))
		return
	}
	s.ingest(w, r, store.EventTypePostCreated, "posts", strconv.FormatInt(p.CreatorID, 10), p)
}

func (s *Server) handlePostLiked(w http.ResponseWriter, r *http.Request) {
	var p store.PostLikedPayload
	if !decodeBody(w, r, &p) {
		return
	}
	if p.CreatorID <= 0 || p.LikedByUserID <= 0 || p.PostID <= 0 {
		writeError(w, r, errs.E(errs.KindBadRequest, "api.handlePostLiked", "creator_id, liked_by_user_id and post_id are required"))
		return
	}
	s.ingest(w, r, store.EventTypePostLiked, "posts", strconv.FormatInt(p.CreatorID, 10), p)
}

// ingest publishes a fact reported by an external service.
func (s *Server) ingest(w http.ResponseWriter, r *http.Request, typ store.EventType, service, key string, payload any) {
	evt, err := store.NewEvent(typ, service, key, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	topic, err := store.TopicFor(typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.pub.Publish(r.Context(), topic, evt); err != nil {
		writeError(w, r, errs.Wrap(errs.KindInternal, "api.ingest", err))
		return
	}
	slog.Info("event_ingested", "event_id", evt.EventID, "event_type", typ, "topic", topic)
	writeJSON(w, r, http.StatusAccepted, EventAccepted{EventID: evt.EventID, Topic: topic})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, r, errs.E(errs.KindBadRequest, "api.decodeBody", "invalid JSON body"))
		return false
	}
	return true
}
