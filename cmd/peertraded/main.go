package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"peertrade/config"
	"peertrade/core"
	"peertrade/observability/logging"
	"peertrade/rpc"
	"peertrade/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PEERTRADE_ENV"))
	logger := logging.Setup("peertraded", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node, err := core.NewNode(db, cfg, logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to create node: %v", err))
	}

	server := rpc.NewServer(node)
	logger.Info("starting RPC server",
		slog.String("address", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName),
		slog.String("token", cfg.NativeToken),
	)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
