package main

import (
	"context"
	"os"

	"github.com/wesleyorama2/vurun/internal/cli"
)

// Main is the entry point for the application.
// It's exported to make it testable.
func Main() int {
	// the run command installs its own interrupt handling
	if err := cli.Execute(context.Background()); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(Main())
}
