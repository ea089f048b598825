package main

import (
	"os"

	"github.com/fluxorio/callcenter/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
