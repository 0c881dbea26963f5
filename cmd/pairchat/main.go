package main

import (
	"context"

	"github.com/joho/godotenv"

	"pairchat/internal/app"
	"pairchat/pkg/config"
	"pairchat/pkg/logger"
	"pairchat/pkg/shutdown"
)

// build metadata, set via ldflags during release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	eff, err := config.LoadEffective(cfgPath, addrVal, dbVal, setFlags)
	if err != nil {
		logger.Init("info")
		shutdown.Abort("failed to load config", err, dbVal)
	}

	logger.Init(eff.Config.Logging.Level)

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("failed to initialize", err, eff.DBPath)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server exited", err, eff.DBPath)
	}
	logger.Info("shutdown_complete")
}
