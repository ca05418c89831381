// Command beerd runs a BEER match server: it accepts connections, pairs
// waiting players, and runs their match to completion.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/unixthat/beer-project/internal/config"
	"github.com/unixthat/beer-project/internal/keymaterial"
	"github.com/unixthat/beer-project/internal/lobby"
	"github.com/unixthat/beer-project/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// --config isn't part of Config itself: it names the file Config is
	// loaded from, so it's parsed ahead of the rest of the flag set.
	preFlags := pflag.NewFlagSet("beerd", pflag.ContinueOnError)
	preFlags.ParseErrorsWhitelist.UnknownFlags = true
	configPath := preFlags.String("config", "", "optional path to a YAML config file")
	_ = preFlags.Parse(args)

	cfg, err := config.Load(*configPath, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "beerd: loading config: %v\n", err)
		return 1
	}

	logger, loggerCloser := logging.NewLogger(logging.LevelFor(cfg.Debug, cfg.Silent), cfg.LogFormat)
	defer loggerCloser.Close()

	cipher, keyHex, err := keymaterial.Resolve(cfg.Secure, cfg.KeyHex)
	if err != nil {
		logger.Error("resolving encryption key", "error", err)
		return 1
	}
	if cfg.Secure && cfg.KeyHex == "" {
		logger.Info("generated a fresh encryption key for this run", "key", keyHex)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("listening", "addr", addr, "error", err)
		return 1
	}
	logger.Info("beerd listening", "addr", addr, "secure", cfg.Secure, "one_ship", cfg.OneShip)

	l := lobby.New(lobby.Config{
		HandshakeTimeout:     cfg.HandshakeTimeout,
		TurnTimeout:          cfg.TurnTimeout,
		PlaceTimeout:         cfg.PlaceTimeout,
		ReconnectTimeout:     cfg.ReconnectTimeout,
		BoardSize:            cfg.BoardSize,
		OneShip:              cfg.OneShip,
		FramesPerSec:         cfg.FramesPerSec,
		Cipher:               cipher,
		StatsInterval:        cfg.StatsInterval,
		HousekeepingInterval: cfg.HousekeepingInterval,
		MatchLogDir:          cfg.MatchLogDir,
	}, logger, newRandSource())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := make(chan os.Signal, 1)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		receivedSignal <- sig
		cancel()
	}()

	go l.StartStatsReporter(ctx)
	cron := l.StartHousekeeping(ctx)
	defer cron.Stop()

	if err := l.Run(ctx, ln); err != nil {
		logger.Error("lobby exited with an error", "error", err)
		return 1
	}

	select {
	case sig := <-receivedSignal:
		if sig == syscall.SIGINT {
			return 130
		}
	default:
	}
	return 0
}

func newRandSource() rand.Source {
	return rand.NewSource(time.Now().UnixNano())
}
