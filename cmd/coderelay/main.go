package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/coderelay/coderelay/cmd/coderelay/commands"
)

func main() {
	// Best effort; a missing .env is the normal case.
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
