package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rmax-ai/linkd/pkg/client"
)

type fakeNetwork struct {
	err error
}

func (f fakeNetwork) FirstDegreeConnections(ctx context.Context, userID int64) ([]client.Person, error) {
	return []client.Person{{UserID: 2, Name: "grace"}}, f.err
}

func (f fakeNetwork) PendingReceived(ctx context.Context, actorID int64) ([]client.Person, error) {
	return []client.Person{{UserID: 3, Name: "ken"}}, nil
}

func (f fakeNetwork) PendingSent(ctx context.Context, actorID int64) ([]client.Person, error) {
	return nil, nil
}

func (f fakeNetwork) Notifications(ctx context.Context, actorID int64) ([]client.Notification, error) {
	return []client.Notification{{ID: 1, UserID: actorID, Message: "Your connection request has been accepted by user: 2", CreatedAt: time.Now()}}, nil
}

func (f fakeNetwork) Ping(ctx context.Context) (client.Status, error) {
	return client.Status{Status: "ok", Services: []string{"connections", "notifications"}}, nil
}

func TestFetchData(t *testing.T) {
	msg := fetchData(fakeNetwork{}, 1)()
	d, ok := msg.(dataMsg)
	if !ok {
		t.Fatalf("expected dataMsg, got %T", msg)
	}
	if d.err != nil {
		t.Fatalf("unexpected error: %v", d.err)
	}
	if len(d.connections) != 1 || len(d.received) != 1 || len(d.notifications) != 1 {
		t.Errorf("unexpected data %+v", d)
	}
}

func TestModel_ViewRendersData(t *testing.T) {
	m := initialModel(fakeNetwork{}, 1)
	if !strings.Contains(m.View(), "Initializing") {
		t.Error("expected initializing view before data arrives")
	}

	updated, _ := m.Update(fetchData(fakeNetwork{}, 1)())
	view := updated.View()
	for _, want := range []string{"grace", "ken", "Online", "accepted by user: 2"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}
}

func TestModel_Offline(t *testing.T) {
	m := initialModel(fakeNetwork{err: errors.New("connection refused")}, 1)
	updated, _ := m.Update(fetchData(fakeNetwork{err: errors.New("connection refused")}, 1)())
	if !strings.Contains(updated.View(), "Offline") {
		t.Error("expected offline status")
	}
}

func TestModel_Quit(t *testing.T) {
	m := initialModel(fakeNetwork{}, 1)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}
