package main

import (
	"log/slog"

	"rental-portal/cmd"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}
	cmd.Execute()
}
