package main

import (
	"fmt"
	"os"

	"dues-service/internal/app"
	"dues-service/pkg/config"
	"dues-service/pkg/logger"
)

func main() {
	build := func() (*app.App, error) {
		cfg, err := config.Load("duesctl")
		if err != nil {
			return nil, err
		}
		if err := logger.InitLogger(&logger.LogConfig{
			Level:       cfg.Log.Level,
			Format:      cfg.Log.Format,
			Environment: cfg.Server.Env,
			ServiceName: cfg.ServiceName,
		}); err != nil {
			return nil, err
		}
		return app.Build(cfg, logger.GetLogger())
	}

	if err := newRootCmd(os.Stdout, build).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
