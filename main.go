package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/quant-ingest/internal/commands"
)

func main() {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		os.Exit(commands.ExitCode(err))
	}
}
