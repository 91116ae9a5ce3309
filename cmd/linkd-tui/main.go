package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rmax-ai/linkd/pkg/client"
)

func main() {
	endpoint := os.Getenv("LINKD_URL")
	if endpoint == "" {
		endpoint = client.DefaultEndpoint
	}
	actor, _ := strconv.ParseInt(os.Getenv("LINKD_USER_ID"), 10, 64)

	flag.StringVar(&endpoint, "endpoint", endpoint, "linkd API endpoint")
	flag.Int64Var(&actor, "user", actor, "user whose network is shown")
	flag.Parse()

	if actor <= 0 {
		fmt.Fprintln(os.Stderr, "a user is required: pass -user or set LINKD_USER_ID")
		os.Exit(2)
	}

	p := tea.NewProgram(initialModel(client.NewClient(endpoint).WithRetries(0, nil), actor), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
