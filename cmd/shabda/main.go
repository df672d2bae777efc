// Command shabda is the entry point for the Shabda transcript correction
// service and its vocabulary tooling.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "shabda: %v\n", err)
		os.Exit(1)
	}
}
