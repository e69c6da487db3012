package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"XetraCast/internal/di"
	"XetraCast/pkg/config"
	applogger "XetraCast/pkg/logger"
)

const usageText = `usage: xetracast <command> [flags]

commands:
  fetch      copy public-dataset bars into ClickHouse
  prepare    build series, train and test channels
  train      start a training job on the prepared channels
  deploy     host a trained model behind an endpoint
  forecast   request quantile forecasts
  teardown   delete hosted endpoints
  serve      run the dashboard and the refresh scheduler
  run        prepare, train, deploy, forecast every symbol, tear down

Run "xetracast <command> -h" for the command's flags.
`

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		fmt.Fprint(os.Stderr, usageText)
		return 2
	}

	name := args[0]
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "config file path")

	run, ok := bindCommand(name, fs)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usageText)
		return 2
	}
	_ = fs.Parse(args[1:])

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		return 1
	}

	c, cleanup, err := di.InitializeContainer(cfg)
	if err != nil {
		log.Printf("initialization failed: %v", err)
		return 1
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.Logger.Debug("command starting",
		applogger.String("command", name),
		applogger.String("env", cfg.Environment),
		applogger.String("source", cfg.Source.Type),
	)
	if err := run(ctx, c); err != nil {
		c.Logger.Error("command failed", applogger.String("command", name), applogger.Error(err))
		return 1
	}
	return 0
}
