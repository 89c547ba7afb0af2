package main

import (
	"flag"
	"log"

	"domaindns/internal/config"
	"domaindns/internal/server"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("=== domaindns: self-service subdomain provisioning ===")
	log.Printf("Version: %s", version)
	log.Printf("Listening on %s:%d", cfg.Server.Host, cfg.Server.Port)

	if err := server.Start(cfg, version); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
