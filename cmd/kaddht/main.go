package main

import (
	"fmt"
	"os"

	"github.com/dep2p/go-kaddht/cmd/kaddht/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
