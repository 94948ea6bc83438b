package main

import (
	"os"

	// Embedded zone database so cron zones resolve on minimal hosts.
	_ "time/tzdata"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
