package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ppiankov/veritas/internal/cli"
)

func main() {
	// VERITAS_* settings may live in a local .env file
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
