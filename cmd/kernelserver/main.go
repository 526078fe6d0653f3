// Command kernelserver is the coordination kernel's process entrypoint:
// loads configuration, opens the store, wires the Coordinator, starts the
// HTTP/websocket adapter and the webhook trigger publisher, and shuts
// everything down cleanly on SIGINT/SIGTERM.
//
// Configuration is flag-based, components are constructed in dependency
// order, and shutdown is driven by an os/signal channel while the HTTP
// server runs in its own goroutine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentcoord/kernel/internal/clock"
	"github.com/agentcoord/kernel/internal/config"
	"github.com/agentcoord/kernel/internal/events"
	"github.com/agentcoord/kernel/internal/kernel"
	"github.com/agentcoord/kernel/internal/notifications"
	"github.com/agentcoord/kernel/internal/store"
	transporthttp "github.com/agentcoord/kernel/internal/transport/http"
	"github.com/agentcoord/kernel/internal/webhook"
)

func main() {
	configPath := flag.String("config", "kernel.yaml", "optional kernel.yaml config file (gate allowlist override)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log.Printf("[KERNEL] starting: bind=%s port=%d db=%s strictMode=%v", cfg.Bind, cfg.Port, cfg.DBPath, cfg.StrictMode)

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}

	coord := kernel.New(s, clock.New())
	if len(cfg.GateCommandAllowlist) > 0 {
		coord.SetGateCommandAllowlist(cfg.GateCommandAllowlist)
		log.Printf("[KERNEL] gate command allowlist overridden from %s", *configPath)
	}
	defer coord.Close()

	pub := webhook.NewPublisher(webhook.EmbeddedServerConfig{})
	if err := pub.Start(); err != nil {
		log.Printf("[KERNEL] webhook trigger publisher disabled: %v", err)
	} else {
		defer pub.Close()
		log.Printf("[KERNEL] webhook trigger publisher listening at %s", pub.ClientURL())

		webhookEvents := coord.Subscribe("webhook-trigger-publisher")
		defer coord.Unsubscribe("webhook-trigger-publisher")
		go func() {
			for e := range webhookEvents {
				if e.Type == events.TypeHello {
					continue
				}
				pub.Publish(e)
			}
		}()
	}

	dashboardURL := fmt.Sprintf("http://%s:%d", cfg.Bind, cfg.Port)
	toast := notifications.NewToastNotifier(dashboardURL)
	router := notifications.NewRouter(notifications.NewToastChannel(toast))
	gateAlerts := coord.Subscribe("gate-alert-router")
	defer coord.Unsubscribe("gate-alert-router")
	go func() {
		for e := range gateAlerts {
			router.Route(e)
		}
	}()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		Handler: transporthttp.New(coord).WithToastNotifier(toast),
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		log.Printf("[KERNEL] received signal %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("[KERNEL] error during shutdown: %v", err)
		}
	}

	log.Printf("[KERNEL] stopped")
}
