package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"perp-pilot/alert"
	"perp-pilot/config"
	"perp-pilot/daemon"
	"perp-pilot/exchange"
	"perp-pilot/interfaces"
	"perp-pilot/logging"
	"perp-pilot/metrics"
	"perp-pilot/status"
	"perp-pilot/store"
	"perp-pilot/trader"
)

func main() {
	daemonStart := flag.Bool("start-daemon", false, "start the trading loop as a background process")
	daemonStop := flag.Bool("stop-daemon", false, "stop the background process")
	daemonRestart := flag.Bool("restart-daemon", false, "restart the background process")
	debugFlag := flag.Bool("debug", false, "enable debug logs")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *debugFlag {
		cfg.LogLevel = int(logging.DEBUG)
	}

	if *daemonStart || *daemonStop || *daemonRestart {
		handleDaemonCommand(cfg, *daemonStart, *daemonStop, *daemonRestart)
		return
	}

	logger, err := logging.NewLogger(
		cfg.LogFile,
		cfg.LogMaxSize,
		cfg.LogMaxBackups,
		cfg.LogMaxAge,
		cfg.LogCompress,
		logging.LogLevel(cfg.LogLevel),
	)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("startup failed: %v", err)
	}
}

func handleDaemonCommand(cfg *config.Config, start, stop, restart bool) {
	// Strip the daemon flag itself so the child runs the loop directly.
	args := make([]string, 0, len(os.Args)-1)
	for _, arg := range os.Args[1:] {
		if arg == "-start-daemon" || arg == "-restart-daemon" {
			continue
		}
		args = append(args, arg)
	}

	var err error
	switch {
	case start:
		err = daemon.Start(cfg.StateDir, args)
	case stop:
		err = daemon.Stop(cfg.StateDir)
	case restart:
		err = daemon.Restart(cfg.StateDir, args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	mode := "live"
	if cfg.PaperMode {
		mode = "paper"
	}
	logger.Info("perp-pilot starting: %s %s, daemon=%v", cfg.Symbol, mode, daemon.IsDaemon())

	st, err := store.New(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}

	client := exchange.NewClient(cfg, logger)
	var execution interfaces.Execution = client
	if cfg.PaperMode {
		execution = exchange.NewPaper(client, logger, cfg.PaperUSD)
	}

	alerter := alert.NewWebhook(cfg.WebhookURL, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var live trader.LivePrice
	if cfg.WSPublic != "" {
		stream := exchange.NewStream(cfg, logger)
		go stream.Run(ctx)
		live = stream
	}

	if cfg.MetricsAddr != "" {
		go metrics.Serve(cfg.MetricsAddr, logger)
	}
	if statusSrv := status.StartServer(cfg, st, logger); statusSrv != nil {
		defer statusSrv.Close()
	}

	bot, err := trader.New(cfg, logger, client, execution, alerter, st, live)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		logger.Info("received %v, shutting down", s)
		cancel()
	}()

	bot.Run(ctx)
	logger.Info("perp-pilot stopped")
	return nil
}
