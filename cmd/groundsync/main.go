package main

import (
	"os"

	"github.com/Iron-Ham/groundsync/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
