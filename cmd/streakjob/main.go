package main

import (
	"fmt"
	"os"

	"github.com/yourname/sleepstreak/internal/config"
)

func main() {
	cmd := newRootCmd(func() (*config.Config, error) { return config.Load(), nil })
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
