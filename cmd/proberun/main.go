package main

import (
	"log/slog"
	"os"
)

// set via ldflags
var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
