// phynctl watches Phyn smart water devices from the command line.
//
// It authenticates with the configured account, connects the realtime
// session, subscribes to the given devices and logs their updates until
// interrupted. When the history store is enabled, every update is also
// recorded locally.
//
// Usage:
//
//	phynctl [-config config.yaml] [-username u] [-password p] deviceID...
//
// Credentials can also come from PHYN_USERNAME and PHYN_PASSWORD.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/helicopterrun/aiophyn"
	"github.com/helicopterrun/aiophyn/internal/infrastructure/config"
	"github.com/helicopterrun/aiophyn/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability.
func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("phynctl", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to YAML configuration file")
	username := flags.String("username", os.Getenv("PHYN_USERNAME"), "account username")
	password := flags.String("password", os.Getenv("PHYN_PASSWORD"), "account password")
	if err := flags.Parse(args); err != nil {
		return err
	}
	devices := flags.Args()
	if *username == "" || *password == "" {
		return fmt.Errorf("username and password are required (flags or PHYN_USERNAME/PHYN_PASSWORD)")
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting phynctl", "version", version, "brand", cfg.Brand)

	client, err := aiophyn.New(*username, *password,
		aiophyn.WithConfig(cfg),
		aiophyn.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("building client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer func() {
		log.Info("shutting down")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error during shutdown", "error", closeErr)
		}
	}()
	log.Info("realtime session established")

	client.OnMessage(func(topic string, payload []byte) {
		log.Info("device update", "topic", topic, "payload", string(payload))
	})

	for _, deviceID := range devices {
		state, err := client.Devices.GetState(ctx, deviceID)
		if err != nil {
			log.Warn("fetching initial state failed", "device", deviceID, "error", err)
		} else {
			log.Info("initial state", "device", deviceID, "sov_status", state["sov_status"])
		}

		if err := client.SubscribeDevice(ctx, deviceID); err != nil {
			log.Warn("subscribing failed", "device", deviceID, "error", err)
			continue
		}
		log.Info("subscribed", "device", deviceID)
	}

	log.Info("watching for updates; interrupt to exit")
	<-ctx.Done()
	return nil
}
