package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON config file (built-in defaults when empty)")
	devMode     = flag.Bool("dev", false, "Simulate the camera and record motor commands instead of driving the serial port")
	listen      = flag.String("listen", "", "HTTP listen address (overrides http_listen)")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func loadConfig(path, listenOverride string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if listenOverride != "" {
		cfg.HTTPListen = &listenOverride
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}

	cfg, err := loadConfig(*configPath, *listen)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	r, err := newRover(cfg, *devMode)
	if err != nil {
		log.Fatalf("failed to start rover: %v", err)
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("rover %s: http on %s, grpc on %s (dev=%v)", version.Get(), r.HTTPAddr(), r.GRPCAddr(), *devMode)
	if err := r.Run(ctx); err != nil {
		log.Printf("rover stopped: %v", err)
		r.Close()
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}
