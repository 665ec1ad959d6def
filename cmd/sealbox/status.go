package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"sealbox/go-core/pkg/models"
)

const statusProbeTimeout = 5 * time.Second

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	rpcAddr := fs.String("rpc-addr", "127.0.0.1:8747", "daemon rpc address host:port")
	rpcToken := fs.String("rpc-token", os.Getenv("SEALBOX_RPC_TOKEN"), "daemon rpc token")
	asJSON := fs.Bool("json", false, "emit json")
	if err := fs.Parse(args); err != nil {
		failUsage(err.Error())
	}

	info, err := probeSessionStatus(context.Background(), *rpcAddr, *rpcToken)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sealbox: "+err.Error())
		os.Exit(exitRPCFailed)
	}
	if *asJSON {
		printJSON(info)
	} else {
		fmt.Printf("state=%s username=%s fingerprint=%s\n",
			info.State, info.Username, info.Fingerprint)
	}
	os.Exit(exitOK)
}

// probeSessionStatus asks a running daemon for its session state over
// JSON-RPC.
func probeSessionStatus(ctx context.Context, rpcAddr, rpcToken string) (models.SessionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()

	body := `{"jsonrpc":"2.0","id":1,"method":"session_status","params":[]}`
	url := "http://" + strings.TrimSpace(rpcAddr) + "/rpc"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return models.SessionInfo{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(rpcToken); token != "" {
		req.Header.Set("X-Sealbox-RPC-Token", token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.SessionInfo{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return models.SessionInfo{}, fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var decoded struct {
		Result models.SessionInfo `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return models.SessionInfo{}, err
	}
	if decoded.Error != nil {
		return models.SessionInfo{}, fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return decoded.Result, nil
}
