package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"sealbox/go-core/internal/composition/daemon"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	rpcAddr := flag.String("rpc-addr", "", "JSON-RPC listen address (default 127.0.0.1:8747)")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for daemon local data (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-Sealbox-RPC-Token (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("sealboxd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *rpcToken != "" {
		_ = os.Setenv("SEALBOX_RPC_TOKEN", *rpcToken)
	}
	if *dataDir != "" {
		_ = os.Setenv("SEALBOX_DATA_DIR", *dataDir)
	}
	if *rpcAddr != "" {
		_ = os.Setenv("SEALBOX_RPC_ADDR", *rpcAddr)
	}

	rt, err := daemon.Build(*configPath)
	if err != nil {
		log.Fatalf("sealboxd failed to initialize: %v", err)
	}

	log.Printf("sealboxd listening on %s", rt.Server.Addr())
	if err := rt.Run(ctx); err != nil {
		log.Fatalf("sealboxd failed: %v", err)
	}
	log.Println("sealboxd stopped")
}
