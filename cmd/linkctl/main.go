package main

import (
	"fmt"
	"os"

	"github.com/rmax-ai/linkd/pkg/errs"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errs.Is(err, errs.KindTimeout) {
			fmt.Fprintln(os.Stderr, "Is linkd running?")
		}
		os.Exit(1)
	}
}
