package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kivups/kivups-client/internal/client"
	"github.com/kivups/kivups-client/internal/config"
	"github.com/kivups/kivups-client/internal/logging"
	"github.com/kivups/kivups-client/internal/session"
	"github.com/kivups/kivups-client/internal/transport"
)

func TestParseGlobalFlags(t *testing.T) {
	tests := []struct {
		args []string
		want globalFlags
	}{
		{[]string{"--ws", "--name", "alice"}, globalFlags{ws: true, name: "alice"}},
		{[]string{"--quic", "--port=9090"}, globalFlags{quic: true, port: 9090}},
		{[]string{"--host=game.example.net", "--config", "client.toml"}, globalFlags{host: "game.example.net", config: "client.toml"}},
		{[]string{"--version"}, globalFlags{version: true}},
		{[]string{"version"}, globalFlags{rest: []string{"version"}}},
	}
	for _, tt := range tests {
		got, err := parseGlobalFlags(tt.args)
		if err != nil {
			t.Fatalf("parseGlobalFlags(%q): %v", tt.args, err)
		}
		if got.ws != tt.want.ws || got.quic != tt.want.quic || got.version != tt.want.version ||
			got.name != tt.want.name || got.host != tt.want.host || got.port != tt.want.port ||
			got.config != tt.want.config || len(got.rest) != len(tt.want.rest) {
			t.Fatalf("parseGlobalFlags(%q) = %+v, want %+v", tt.args, got, tt.want)
		}
	}
}

func TestParseGlobalFlagsErrors(t *testing.T) {
	for _, args := range [][]string{{"--name"}, {"--port", "eighty"}, {"--port=x"}} {
		if _, err := parseGlobalFlags(args); err == nil {
			t.Fatalf("parseGlobalFlags(%q) succeeded", args)
		}
	}
}

func TestLoadConfigDialModes(t *testing.T) {
	cfg, err := loadConfig(globalFlags{ws: true, name: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if mode, _ := cfg.DialMode(); mode != transport.DialWS {
		t.Fatalf("mode = %s, want ws", mode)
	}

	cfg, err = loadConfig(globalFlags{quic: true, port: 9090})
	if err != nil {
		t.Fatal(err)
	}
	if mode, _ := cfg.DialMode(); mode != transport.DialQUIC || cfg.Port != 9090 {
		t.Fatalf("cfg = %+v", cfg)
	}

	if _, err := loadConfig(globalFlags{quic: true, ws: true}); err == nil {
		t.Fatal("expected --quic with --ws to fail")
	}
}

// A server that accepts but never answers the login keeps run waiting; an
// interrupt at that point is a clean exit.
func TestRunCancelDuringLogin(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	cfg := config.Default()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	cfg.Name = "alice"
	cfg.LoginTimeout = time.Minute
	s, err := session.New(cfg, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, s, client.New(s, logging.Discard())) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

