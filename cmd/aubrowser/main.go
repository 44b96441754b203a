package main

import (
	"github.com/coolmanlume/aubrowser/cmd/aubrowser/cmd"
)

func main() {
	// Execute the root command (defined in cmd/root.go)
	cmd.Execute()
}
