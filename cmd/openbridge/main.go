package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/openbridge/openbridge/internal/cli"
)

func main() {
	// Optional .env in the working directory; real environment wins.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
