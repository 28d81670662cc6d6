// ABOUTME: Entry point for folio-admin, a command-line client for the folio admin session
// ABOUTME: Signs in, inspects, and keeps alive a gateway session from the terminal

package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
