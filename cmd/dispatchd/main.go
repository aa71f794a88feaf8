package main

import (
	"os"

	"github.com/agentcore/dispatchcore/cmd/dispatchd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
