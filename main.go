// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/petervdpas/beacon/internal/config"
	"github.com/petervdpas/beacon/internal/util"
)

var (
	configPath = flag.String("config", "", "Path to config file (default: <data-dir>/config.json)")
	dataDir    = flag.String("data", "", "Override the profile data directory")
	showHelp   = flag.Bool("h", false, "Show help")
	version    = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Beacon v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	// .env is optional; it supplies BEACON_COOKIE for dev sessions.
	if err := godotenv.Load(); err == nil {
		log.Printf("APP: loaded .env")
	}

	cfgPath := *configPath
	if cfgPath == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = "."
		}
		cfgPath = util.ResolvePath(filepath.Join(base, "beacon"), "config.json")
	}
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("APP: config: %v", err)
	}
	if created {
		log.Printf("APP: wrote default config to %s", cfgPath)
	}
	if *dataDir != "" {
		cfg.Paths.DataDir = *dataDir
	}
	if c := os.Getenv("BEACON_COOKIE"); c != "" {
		cfg.Server.AuthCookie = c
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("APP: config: %v", err)
	}
	// Relative data dirs live next to the config file.
	cfg.Paths.DataDir = util.ResolvePath(filepath.Dir(cfgPath), cfg.Paths.DataDir)

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("APP: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.OnAuthExpired(func() {
		log.Printf("APP: session expired, exiting — log in again to get a fresh cookie")
		stop()
	})

	if err := app.Run(ctx); err != nil {
		app.Shutdown()
		log.Fatalf("APP: %v", err)
	}

	<-ctx.Done()
	app.Shutdown()
}

func showUsage() {
	fmt.Println("Beacon — messaging and calls client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  beacon [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
