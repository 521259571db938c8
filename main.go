// Package main is the entry point for synguard, a TCP SYN flood admission engine.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/synguard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
