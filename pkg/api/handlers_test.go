package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/linkd/pkg/backoff"
	"github.com/rmax-ai/linkd/pkg/bus"
	"github.com/rmax-ai/linkd/pkg/engine"
	"github.com/rmax-ai/linkd/pkg/graph"
	"github.com/rmax-ai/linkd/pkg/notify"
	"github.com/rmax-ai/linkd/pkg/store"
)

type harness struct {
	t      *testing.T
	graph  *store.Store
	notes  *store.Store
	bus    *bus.MemoryBus
	server *Server
}

// newHarness wires the full single-process deployment: engine, memory bus,
// person projection and notification projection.
func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	graphStore, err := store.NewStore(filepath.Join(dir, "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { graphStore.Close() })

	noteStore, err := store.NewStore(filepath.Join(dir, "notifications.db"))
	require.NoError(t, err)
	t.Cleanup(func() { noteStore.Close() })

	b := bus.NewMemoryBus(bus.Options{
		StallAfter: 5,
		Backoff:    &backoff.Exponential{Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	persons := graph.NewPersonProjection(graphStore)
	go b.Subscribe(ctx, store.TopicUserCreated, graph.ConsumerGroup, persons.Handle)

	consumer := notify.NewConsumer(noteStore, graphStore)
	for _, topic := range notify.Topics() {
		go b.Subscribe(ctx, topic, notify.ConsumerGroup, consumer.Handle)
	}

	eng := engine.New(graphStore, b, engine.Config{TxRetries: engine.DefaultTxRetries})
	srv := NewServer(Options{Engine: eng, Notifications: noteStore, Publisher: b})

	return &harness{t: t, graph: graphStore, notes: noteStore, bus: b, server: srv}
}

func (h *harness) do(method, path string, actor int64, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != 0 {
		req.Header.Set(ActorHeader, fmt.Sprint(actor))
	}
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func (h *harness) persons(path string, actor int64) []int64 {
	h.t.Helper()
	w := h.do("GET", path, actor, nil)
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	var persons []store.Person
	require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &persons))
	ids := make([]int64, 0, len(persons))
	for _, p := range persons {
		ids = append(ids, p.UserID)
	}
	return ids
}

func (h *harness) notifications(actor int64) []store.Notification {
	h.t.Helper()
	w := h.do("GET", "/v1/notifications", actor, nil)
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	var list []store.Notification
	require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &list))
	return list
}

func (h *harness) createUser(id int64) {
	h.t.Helper()
	w := h.do("POST", "/v1/events/user-created", 0, store.UserCreatedPayload{UserID: id, Name: fmt.Sprintf("user-%d", id)})
	require.Equal(h.t, http.StatusAccepted, w.Code, w.Body.String())
	require.Eventually(h.t, func() bool {
		p, err := h.graph.FindPerson(context.Background(), id)
		return err == nil && p != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestEndToEnd_RequestAcceptNotify(t *testing.T) {
	h := newHarness(t)
	const a, b = int64(1), int64(2)
	h.createUser(a)
	h.createUser(b)

	w := h.do("POST", fmt.Sprintf("/v1/connections/request/%d", b), a, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	assert.Equal(t, []int64{a}, h.persons("/v1/connections/received", b))
	assert.Equal(t, []int64{b}, h.persons("/v1/connections/sent", a))

	w = h.do("POST", fmt.Sprintf("/v1/connections/accept/%d", a), b, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, []int64{b}, h.persons("/v1/connections/first-degree", a))
	assert.Equal(t, []int64{a}, h.persons("/v1/connections/first-degree", b))

	require.Eventually(t, func() bool { return len(h.notifications(a)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Your connection request has been accepted by user: 2", h.notifications(a)[0].Message)

	require.Eventually(t, func() bool { return len(h.notifications(b)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "You have received a connection request from user: 1", h.notifications(b)[0].Message)
}

func TestEndToEnd_PostFanOut(t *testing.T) {
	h := newHarness(t)
	for _, id := range []int64{1, 2, 3} {
		h.createUser(id)
	}
	require.Equal(t, http.StatusOK, h.do("POST", "/v1/connections/request/2", 1, nil).Code)
	require.Equal(t, http.StatusOK, h.do("POST", "/v1/connections/accept/1", 2, nil).Code)

	w := h.do("POST", "/v1/events/post-created", 0, store.PostCreatedPayload{CreatorID: 1, PostID: 77})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		for _, n := range h.notifications(2) {
			if n.Message == "Your connection 1 has created a new post. Check it out!" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.notifications(3))
}

func TestLifecycleErrors(t *testing.T) {
	h := newHarness(t)
	h.createUser(1)
	h.createUser(2)

	w := h.do("POST", "/v1/connections/request/2", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", decodeError(t, w).Error)

	w = h.do("POST", "/v1/connections/request/1", 1, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Cannot send connection request to yourself", decodeError(t, w).Message)

	w = h.do("POST", "/v1/connections/request/abc", 1, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do("POST", "/v1/connections/request/99", 1, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do("POST", "/v1/connections/accept/2", 1, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, "not_found", e.Error)
	assert.Equal(t, http.StatusNotFound, e.Status)
	assert.NotEmpty(t, e.Timestamp)

	require.Equal(t, http.StatusOK, h.do("POST", "/v1/connections/request/2", 1, nil).Code)
	w = h.do("POST", "/v1/connections/request/2", 1, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Connection request already exists", decodeError(t, w).Message)

	require.Equal(t, http.StatusOK, h.do("POST", "/v1/connections/reject/1", 2, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do("POST", "/v1/connections/reject/1", 2, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do("POST", "/v1/connections/remove/2", 1, nil).Code)
}

func TestSuggestionsAndRelation(t *testing.T) {
	h := newHarness(t)
	for _, id := range []int64{1, 2, 3, 4} {
		h.createUser(id)
	}
	require.Equal(t, http.StatusOK, h.do("POST", "/v1/connections/request/2", 1, nil).Code)

	assert.Equal(t, []int64{3, 4}, h.persons("/v1/connections/suggestions", 1))
	assert.Equal(t, []int64{3}, h.persons("/v1/connections/suggestions?limit=1", 1))
	assert.Equal(t, http.StatusBadRequest, h.do("GET", "/v1/connections/suggestions?limit=x", 1, nil).Code)

	w := h.do("GET", "/v1/connections/relation/1", 2, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"REQUESTED","sender_id":1}`, w.Body.String())

	w = h.do("GET", "/v1/connections/graph", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var n graph.Neighborhood
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &n))
	assert.Len(t, n.Edges, 1)
}

func TestIngestionValidation(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusBadRequest, h.do("POST", "/v1/events/user-created", 0, map[string]any{"name": "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do("POST", "/v1/events/post-liked", 0, store.PostLikedPayload{CreatorID: 1}).Code)

	req := httptest.NewRequest("POST", "/v1/events/post-created", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type downPublisher struct{}

func (downPublisher) Publish(context.Context, string, *store.Event) error {
	return errors.New("bus unavailable")
}

func TestPartialFailureIsAccepted(t *testing.T) {
	s, err := store.NewStore(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.CreatePerson(ctx, 1, "a"))
	require.NoError(t, s.CreatePerson(ctx, 2, "b"))

	srv := NewServer(Options{Engine: engine.New(s, downPublisher{}, engine.Config{})})
	req := httptest.NewRequest("POST", "/v1/connections/request/2", nil)
	req.Header.Set(ActorHeader, "1")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"success":true,"events_pending":true}`, w.Body.String())

	exists, err := s.RequestExists(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLockedGraphIsUnavailable(t *testing.T) {
	const txTimeout = 100 * time.Millisecond
	s, err := store.NewStore(filepath.Join(t.TempDir(), "graph.db"), store.WithBusyTimeout(txTimeout))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.CreatePerson(ctx, 1, "a"))
	require.NoError(t, s.CreatePerson(ctx, 2, "b"))

	eng := engine.New(s, downPublisher{}, engine.Config{
		TxTimeout: txTimeout,
		TxRetries: 1,
		Backoff:   &backoff.Exponential{Base: time.Millisecond, Max: time.Millisecond, Factor: 1},
	})
	srv := NewServer(Options{Engine: eng})

	locked := make(chan struct{})
	unlock := make(chan struct{})
	held := make(chan error, 1)
	go func() {
		held <- s.InTx(ctx, func(*store.Graph) error {
			close(locked)
			<-unlock
			return nil
		})
	}()
	<-locked

	req := httptest.NewRequest("POST", "/v1/connections/request/2", nil)
	req.Header.Set(ActorHeader, "1")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	close(unlock)
	require.NoError(t, <-held)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "timeout", body.Error)
	assert.Equal(t, http.StatusServiceUnavailable, body.Status)

	exists, err := s.RequestExists(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, exists)
}

type fakeLeadership struct{}

func (fakeLeadership) IsLeader() bool { return true }
func (fakeLeadership) Epoch() int64   { return 4 }

func TestHealth(t *testing.T) {
	srv := NewServer(Options{Election: fakeLeadership{}})
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/v1/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","services":[],"leader":true,"epoch":4}`, w.Body.String())

	// Routes of services not hosted are absent.
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/v1/notifications", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
