package main

import (
	"os"

	"github.com/rohanthewiz/logger"

	"syncevo/cli"
	"syncevo/config"
)

func main() {
	cfg := config.Load()

	// Initialize logger; flags may lower or raise it again
	logger.SetLogLevel(cfg.LogLevel)

	if err := cli.Execute(cfg); err != nil {
		logger.LogErr(err, "syncevo failed")
		os.Exit(1)
	}
}
