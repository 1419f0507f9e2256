// configctl talks to a running relay the way a game client does: it can watch
// relayed config changes, push a configuration, or send a disable signal.
// Usage:
//
//	go run ./cmd/configctl -mode watch -relay localhost:6121
//	go run ./cmd/configctl -mode push -file soundproof.toml -validate
//	go run ./cmd/configctl -mode disable
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Plag0/Soundproof-Walls-sub002/client"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/crypto"
)

func main() {
	relayAddr := flag.String("relay", "localhost:6121", "relay address (empty to discover via mDNS)")
	mode := flag.String("mode", "watch", "watch | push | disable | gen-key")
	nodeID := flag.String("id", "configctl", "node id")
	file := flag.String("file", "", "config file to push")
	payload := flag.String("payload", "", "config payload to push (instead of -file)")
	validate := flag.Bool("validate", false, "check that the pushed config is valid TOML")
	keyHex := flag.String("key", "", "group key (hex) to seal/open payloads")
	flag.Parse()

	if *mode == "gen-key" {
		key, err := crypto.GenerateGroupKey()
		if err != nil {
			slog.Error("generate key failed", "err", err)
			os.Exit(1)
		}
		fmt.Println(key.String())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	var key *crypto.GroupKey
	if *keyHex != "" {
		var err error
		if key, err = crypto.ParseGroupKey(*keyHex); err != nil {
			slog.Error("invalid -key", "err", err)
			os.Exit(1)
		}
	}

	var body string
	if *mode == "push" {
		var err error
		if body, err = loadPayload(*file, *payload, *validate); err != nil {
			slog.Error("invalid payload", "err", err)
			os.Exit(1)
		}
	}

	dctx, dcancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.New(dctx, client.Config{
		RelayAddr: *relayAddr,
		NodeID:    *nodeID,
		GroupKey:  key,
	})
	dcancel()
	if err != nil {
		slog.Error("connect failed", "err", err)
		os.Exit(1)
	}
	defer c.Close()
	slog.Info("connected", "peer", c.PeerID())

	switch *mode {
	case "watch":
		watch(ctx, c)
	case "push":
		if err := c.UpdateConfig(ctx, body); err != nil {
			slog.Error("push failed", "err", err)
			os.Exit(1)
		}
		slog.Info("config pushed", "bytes", len(body))
		settle(c)
	case "disable":
		if err := c.DisableConfig(ctx); err != nil {
			slog.Error("disable failed", "err", err)
			os.Exit(1)
		}
		slog.Info("disable sent")
		settle(c)
	default:
		fmt.Println("usage: configctl -mode watch|push|disable|gen-key [-relay localhost:6121] [-file cfg.toml | -payload str] [-key <hex>]")
	}
}

func watch(ctx context.Context, c *client.Client) {
	var updates, disables int
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\nDone. Updates: %d, Disables: %d\n", updates, disables)
			return
		case <-c.Done():
			slog.Warn("relay connection closed")
			return
		case e := <-c.Errors():
			slog.Warn("relay error", "code", e.Code, "msg", e.Message)
		case e, ok := <-c.Events():
			if !ok {
				return
			}
			switch e.Kind {
			case client.EventUpdate:
				updates++
				fmt.Printf("[%s] UPDATE %s\n", time.Now().Format("15:04:05"), e.Payload)
			case client.EventDisable:
				disables++
				fmt.Printf("[%s] DISABLE\n", time.Now().Format("15:04:05"))
			}
		}
	}
}

// settle waits briefly for an error frame so a rejected request is reported
// before the connection closes.
func settle(c *client.Client) {
	select {
	case e := <-c.Errors():
		slog.Error("relay rejected request", "code", e.Code, "msg", e.Message)
		os.Exit(1)
	case <-time.After(300 * time.Millisecond):
	}
}
