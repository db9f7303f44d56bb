package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mcpgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := os.Args[1:]
	return cmdServe(args)
}
