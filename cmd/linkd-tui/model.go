package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rmax-ai/linkd/pkg/client"
)

const (
	pollRate       = time.Second
	fetchTimeout   = 800 * time.Millisecond
	viewportHeight = 15
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(32)

	noteTimeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(18)
	noteStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// network is the subset of the client the dashboard polls.
type network interface {
	FirstDegreeConnections(ctx context.Context, userID int64) ([]client.Person, error)
	PendingReceived(ctx context.Context, actorID int64) ([]client.Person, error)
	PendingSent(ctx context.Context, actorID int64) ([]client.Person, error)
	Notifications(ctx context.Context, actorID int64) ([]client.Notification, error)
	Ping(ctx context.Context) (client.Status, error)
}

type tickMsg time.Time

type dataMsg struct {
	connections   []client.Person
	received      []client.Person
	sent          []client.Person
	notifications []client.Notification
	status        client.Status
	err           error
}

type model struct {
	api     network
	actorID int64

	spinner  spinner.Model
	viewport viewport.Model
	data     dataMsg
	err      error
	ready    bool
}

func initialModel(api network, actorID int64) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		api:      api,
		actorID:  actorID,
		spinner:  s,
		viewport: newViewport(100),
	}
}

func newViewport(width int) viewport.Model {
	vp := viewport.New(width, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return vp
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchData(m.api, m.actorID),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, fetchData(m.api, m.actorID), tick())

	case dataMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.data = msg
			m.updateViewportContent()
		}
		m.ready = true

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}

	return m, tea.Batch(cmds...)
}

// updateViewportContent renders the feed, newest first as served.
func (m *model) updateViewportContent() {
	var sb strings.Builder
	for _, n := range m.data.notifications {
		fmt.Fprintf(&sb, "%s %s\n",
			noteTimeStyle.Render(n.CreatedAt.Local().Format("01-02 15:04:05")),
			noteStyle.Render(n.Message),
		)
	}
	m.viewport.SetContent(sb.String())
}

func renderPersons(title string, persons []client.Person) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s (%d)", title, len(persons))) + "\n\n")
	if len(persons) == 0 {
		sb.WriteString(subtleStyle.Render("None."))
	}
	for _, p := range persons {
		fmt.Fprintf(&sb, "• %s #%d\n", p.Name, p.UserID)
	}
	return paneStyle.Render(sb.String())
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Initializing...", m.spinner.View())
	}

	topPane := lipgloss.JoinHorizontal(lipgloss.Top,
		renderPersons("Connections", m.data.connections),
		renderPersons("Received", m.data.received),
		renderPersons("Sent", m.data.sent),
	)

	header := headerStyle.Render(fmt.Sprintf("%s Notifications for user %d", m.spinner.View(), m.actorID))

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("Online • %s • %d Connections • %d Notifications",
			strings.Join(m.data.status.Services, ","), len(m.data.connections), len(m.data.notifications)))
		if m.data.status.Leader != nil && *m.data.status.Leader {
			status += okStyle.Render(fmt.Sprintf(" • Relay leader (epoch %d)", m.data.status.Epoch))
		}
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nPress q to quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, header, m.viewport.View(), footer)
}

// Commands

func fetchData(api network, actorID int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		var (
			d   dataMsg
			err error
		)
		if d.status, err = api.Ping(ctx); err != nil {
			return dataMsg{err: err}
		}
		if d.connections, err = api.FirstDegreeConnections(ctx, actorID); err != nil {
			return dataMsg{err: err}
		}
		if d.received, err = api.PendingReceived(ctx, actorID); err != nil {
			return dataMsg{err: err}
		}
		if d.sent, err = api.PendingSent(ctx, actorID); err != nil {
			return dataMsg{err: err}
		}
		if d.notifications, err = api.Notifications(ctx, actorID); err != nil {
			return dataMsg{err: err}
		}
		return d
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
