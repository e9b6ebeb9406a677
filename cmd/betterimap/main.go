package main

import (
	"github.com/joho/godotenv"

	"github.com/ikatson/betterimap/internal/cli"
)

func main() {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load(".env")
	cli.Execute()
}
