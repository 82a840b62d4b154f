package main

import (
	"os"

	"github.com/sploithunter/harness-bench/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
