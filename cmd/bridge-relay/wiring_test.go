package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devblac/bridge-relay/internal/config"
	"github.com/devblac/bridge-relay/internal/relay"
)

// jsonRPCNode answers web3_clientVersion, or fails it when version is empty.
func jsonRPCNode(t *testing.T, version string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if req.Method == "web3_clientVersion" && version != "" {
			resp["result"] = version
		} else {
			resp["error"] = map[string]any{"code": -32601, "message": "method not available"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func evmSourceConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Source.Type = config.SourceEVM
	cfg.Source.RPCURL = url
	cfg.Source.Contract = "0x1111111111111111111111111111111111111111"
	return cfg
}

func TestOpenReaderChecksClientVersion(t *testing.T) {
	node := jsonRPCNode(t, "Geth/v1.13.11-stable")
	log, buf := bufferLogger()

	_, closeReader, err := openReader(context.Background(), evmSourceConfig(node.URL), log)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	closeReader()
	out := buf.String()
	if !strings.Contains(out, "connected to source") || !strings.Contains(out, "Geth/v1.13.11-stable") {
		t.Fatalf("missing connection log: %s", out)
	}
}

func TestOpenReaderFailsWhenClientVersionFails(t *testing.T) {
	node := jsonRPCNode(t, "")
	log, buf := bufferLogger()

	_, _, err := openReader(context.Background(), evmSourceConfig(node.URL), log)
	if err == nil || !relay.IsConnectivity(err) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if strings.Contains(buf.String(), "connected to source") {
		t.Fatalf("logged a connection that was never made: %s", buf.String())
	}
}

func TestOpenReaderAlgorandLogsRound(t *testing.T) {
	algod := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"last-round":12}`))
	}))
	t.Cleanup(algod.Close)

	cfg := config.Default()
	cfg.Source.Type = config.SourceAlgorand
	cfg.Source.RPCURL = algod.URL
	cfg.Source.AppID = 123
	log, buf := bufferLogger()

	_, closeReader, err := openReader(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	closeReader()
	if out := buf.String(); !strings.Contains(out, "connected to source") || !strings.Contains(out, "round=12") {
		t.Fatalf("missing connection log: %s", out)
	}
}

func TestBuildNotifierRoutesAlertURLs(t *testing.T) {
	cfg := config.Default()
	cfg.Alerts = []config.Alert{
		{ID: "chat", Type: "Slack", WebhookURL: "https://hooks.invalid/slack"},
		{ID: "ops", Type: "webhook", URL: "https://ops.invalid/hook", Method: "PUT"},
	}
	if _, err := buildNotifier(cfg, slog.Default(), nil); err != nil {
		t.Fatalf("build notifier: %v", err)
	}

	// A webhook reads url, not webhook_url.
	cfg.Alerts = []config.Alert{{ID: "ops", Type: "webhook", WebhookURL: "https://ops.invalid/hook"}}
	if _, err := buildNotifier(cfg, slog.Default(), nil); err == nil || !strings.Contains(err.Error(), "alert ops") {
		t.Fatalf("expected url error, got %v", err)
	}
}
