package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"steward/server/internal/gbx"
	"steward/server/internal/httpapi"
	"steward/server/internal/match"
	"steward/server/internal/records"
	"steward/server/store"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

func main() {
	// Check for CLI subcommands before parsing flags.
	if len(os.Args) > 1 {
		cfg, err := LoadConfig("steward.toml")
		if err != nil {
			log.Fatalf("[config] %v", err)
		}
		if RunCLI(os.Args[1:], cfg.Store.Path) {
			return
		}
	}

	configPath := flag.String("config", "steward.toml", "config file path (STEWARD_CONFIG overrides)")
	serverAddr := flag.String("server", "", "dedicated server XML-RPC address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	apiAddr := flag.String("api-addr", "", "HTTP status API address (overrides config; empty keeps config)")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	if *serverAddr != "" {
		cfg.Server.Addr = *serverAddr
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *apiAddr != "" {
		cfg.API.Addr = *apiAddr
	}

	// Open persistent store first; nothing else is worth starting without it.
	st, err := store.New(cfg.Store.Path)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	// Connect and authenticate against the dedicated server.
	client, err := gbx.Dial(ctx, cfg.Server.Addr)
	if err != nil {
		log.Fatalf("[gbx] %v", err)
	}
	defer client.Close()

	if err := client.Authenticate(ctx, cfg.Server.Login, cfg.Server.Password); err != nil {
		log.Fatalf("[gbx] authenticate: %v", err)
	}
	if err := client.SetAPIVersion(ctx, cfg.Server.APIVersion); err != nil {
		log.Fatalf("[gbx] set api version: %v", err)
	}
	if err := client.EnableCallbacks(ctx, true); err != nil {
		log.Fatalf("[gbx] enable callbacks: %v", err)
	}
	// The mode script has its own callback switchboard.
	if err := client.TriggerModeScriptEventArray(ctx, "XmlRpc.EnableCallbacks", "true"); err != nil {
		log.Printf("[gbx] script callbacks: %v (non-fatal)", err)
	}
	name, version, err := client.GetVersion(ctx)
	if err != nil {
		log.Fatalf("[gbx] get version: %v", err)
	}
	log.Printf("[gbx] connected to %s (%s)", name, version)

	state := match.NewState()
	state.SetTimeLimitFactor(cfg.Match.TimeLimitFactor)
	engine := records.NewEngine(st)
	renderer := &ChatRenderer{Client: client}
	adminCh := make(chan AdminCommand, 16)

	controller := NewController(client, st, state, engine, renderer, adminCh,
		cfg.Match.OutroDuration(), cfg.Match.TimeLimitMin(), cfg.Match.TimeLimitMax())

	// Periodically optimize SQLite query planner.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := st.Optimize(); err != nil {
					log.Printf("[store] optimize: %v", err)
				}
			}
		}
	}()

	// Start metrics logging.
	go RunMetrics(ctx, state, 30*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return controller.Run(gctx)
	})
	if cfg.Match.HeartbeatSeconds > 0 {
		g.Go(func() error {
			client.Heartbeat(gctx, time.Duration(cfg.Match.HeartbeatSeconds)*time.Second)
			return nil
		})
	}
	if cfg.API.Addr != "" {
		api := httpapi.New(st, state, controller, Version)
		g.Go(func() error {
			return api.Run(gctx, cfg.API.Addr)
		})
		log.Printf("[api] listening on %s", cfg.API.Addr)
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("[server] %v", err)
	}
}
