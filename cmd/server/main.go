package main

import (
	"github.com/tapestry-hq/tapestry/backend/internal/server"
	"github.com/tapestry-hq/tapestry/backend/internal/util"
	"github.com/tapestry-hq/tapestry/backend/pkg/logger"
	"github.com/tapestry-hq/tapestry/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
