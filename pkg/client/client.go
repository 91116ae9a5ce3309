package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rmax-ai/linkd/pkg/backoff"
	"github.com/rmax-ai/linkd/pkg/errs"
)

// ActorHeader carries the acting user id, as set by the gateway.
const ActorHeader = "X-User-Id"

// DefaultEndpoint is used when NewClient is given an empty endpoint.
const DefaultEndpoint = "http://127.0.0.1:8095"

// Client is the linkd SDK client.
type Client struct {
	endpoint string
	http     *http.Client
	backoff  backoff.Strategy
	retries  int
}

// NewClient creates a new linkd client.
// endpoint defaults to DefaultEndpoint if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		backoff: &backoff.Exponential{
			Base:   100 * time.Millisecond,
			Max:    5 * time.Second,
			Factor: 2.0,
			Jitter: 0.2,
		},
		retries: 3,
	}
}

// WithRetries sets how many times a retryable failure is retried.
func (c *Client) WithRetries(n int, b backoff.Strategy) *Client {
	c.retries = n
	if b != nil {
		c.backoff = b
	}
	return c
}

// do sends one request and decodes a 2xx body into out. 503 answers are
// retried; so are transport failures of idempotent requests.
func (c *Client) do(ctx context.Context, op, method, path string, actorID int64, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := backoff.Sleep(ctx, c.backoff, attempt-1); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if actorID != 0 {
			req.Header.Set(ActorHeader, strconv.FormatInt(actorID, 10))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = errs.Wrap(errs.KindTimeout, op, err)
			if method == http.MethodGet && ctx.Err() == nil {
				continue
			}
			return lastErr
		}

		lastErr = decodeResponse(op, resp, out)
		if !errs.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func decodeResponse(op string, resp *http.Response, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.KindInternal, op, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return errs.Wrap(errs.KindInternal, op, fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	var e errorResponse
	_ = json.Unmarshal(data, &e)
	kind := kindForStatus(resp.StatusCode)
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("unexpected status: %d", resp.StatusCode)
	}
	return errs.E(kind, op, msg)
}

func kindForStatus(status int) errs.Kind {
	switch status {
	case http.StatusBadRequest:
		return errs.KindBadRequest
	case http.StatusUnauthorized:
		return errs.KindUnauthenticated
	case http.StatusNotFound:
		return errs.KindNotFound
	case http.StatusConflict:
		return errs.KindConflict
	case http.StatusServiceUnavailable:
		return errs.KindTimeout
	default:
		return errs.KindInternal
	}
}

func (c *Client) lifecycle(ctx context.Context, op, action string, actorID, userID int64) (Result, error) {
	var res Result
	path := fmt.Sprintf("/v1/connections/%s/%d", action, userID)
	err := c.do(ctx, op, http.MethodPost, path, actorID, nil, &res)
	return res, err
}

// SendRequest sends a connection request from actorID to userID.
func (c *Client) SendRequest(ctx context.Context, actorID, userID int64) (Result, error) {
	return c.lifecycle(ctx, "client.SendRequest", "request", actorID, userID)
}

// AcceptRequest accepts senderID's request to actorID.
func (c *Client) AcceptRequest(ctx context.Context, actorID, senderID int64) (Result, error) {
	return c.lifecycle(ctx, "client.AcceptRequest", "accept", actorID, senderID)
}

// RejectRequest rejects senderID's request to actorID.
func (c *Client) RejectRequest(ctx context.Context, actorID, senderID int64) (Result, error) {
	return c.lifecycle(ctx, "client.RejectRequest", "reject", actorID, senderID)
}

// RemoveConnection removes the connection between actorID and userID.
func (c *Client) RemoveConnection(ctx context.Context, actorID, userID int64) (Result, error) {
	return c.lifecycle(ctx, "client.RemoveConnection", "remove", actorID, userID)
}

func (c *Client) persons(ctx context.Context, op, path string, actorID int64) ([]Person, error) {
	var out []Person
	if err := c.do(ctx, op, http.MethodGet, path, actorID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FirstDegreeConnections lists the connections of userID.
func (c *Client) FirstDegreeConnections(ctx context.Context, userID int64) ([]Person, error) {
	return c.persons(ctx, "client.FirstDegreeConnections", "/v1/connections/first-degree", userID)
}

// PendingReceived lists users with a pending request to actorID.
func (c *Client) PendingReceived(ctx context.Context, actorID int64) ([]Person, error) {
	return c.persons(ctx, "client.PendingReceived", "/v1/connections/received", actorID)
}

// PendingSent lists users actorID has a pending request to.
func (c *Client) PendingSent(ctx context.Context, actorID int64) ([]Person, error) {
	return c.persons(ctx, "client.PendingSent", "/v1/connections/sent", actorID)
}

// Suggestions lists users actorID has no relation with. limit <= 0 means all.
func (c *Client) Suggestions(ctx context.Context, actorID int64, limit int) ([]Person, error) {
	path := "/v1/connections/suggestions"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	return c.persons(ctx, "client.Suggestions", path, actorID)
}

// Relation returns the state between actorID and userID.
func (c *Client) Relation(ctx context.Context, actorID, userID int64) (Relation, error) {
	var rel Relation
	err := c.do(ctx, "client.Relation", http.MethodGet, fmt.Sprintf("/v1/connections/relation/%d", userID), actorID, nil, &rel)
	return rel, err
}

// Graph returns the ego graph of actorID.
func (c *Client) Graph(ctx context.Context, actorID int64) (*Neighborhood, error) {
	var n Neighborhood
	if err := c.do(ctx, "client.Graph", http.MethodGet, "/v1/connections/graph", actorID, nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Notifications returns the 20 most recent notifications of actorID.
func (c *Client) Notifications(ctx context.Context, actorID int64) ([]Notification, error) {
	var out []Notification
	if err := c.do(ctx, "client.Notifications", http.MethodGet, "/v1/notifications", actorID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportUserCreated publishes a new identity to the graph.
func (c *Client) ReportUserCreated(ctx context.Context, ev UserCreated) (EventReceipt, error) {
	var r EventReceipt
	err := c.do(ctx, "client.ReportUserCreated", http.MethodPost, "/v1/events/user-created", 0, ev, &r)
	return r, err
}

// ReportPostCreated publishes a new post for notification fan-out.
func (c *Client) ReportPostCreated(ctx context.Context, ev PostCreated) (EventReceipt, error) {
	var r EventReceipt
	err := c.do(ctx, "client.ReportPostCreated", http.MethodPost, "/v1/events/post-created", 0, ev, &r)
	return r, err
}

// ReportPostLiked publishes a like for notification fan-out.
func (c *Client) ReportPostLiked(ctx context.Context, ev PostLiked) (EventReceipt, error) {
	var r EventReceipt
	err := c.do(ctx, "client.ReportPostLiked", http.MethodPost, "/v1/events/post-liked", 0, ev, &r)
	return r, err
}

// Ping checks the health of the daemon.
func (c *Client) Ping(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, "client.Ping", http.MethodGet, "/v1/health", 0, nil, &s)
	return s, err
}
