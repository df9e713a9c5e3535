// Command sendmail sends a single message file through a configured
// provider from the command line. Useful for smoke-testing provider
// credentials without running the API server.
//
// Usage:
//
//	sendmail -config config.yaml -provider sparkpost message.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ignite/mailbridge/internal/config"
	"github.com/ignite/mailbridge/internal/email"
	"github.com/ignite/mailbridge/internal/pkg/logger"
	"github.com/ignite/mailbridge/internal/providers"
	"github.com/ignite/mailbridge/internal/relay"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	provider := flag.String("provider", "", "provider to send through")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall send timeout")
	flag.Parse()

	if *provider == "" || flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sendmail -config config.yaml -provider <name> <message.json>")
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("loading config failed", "path", *configPath, "error", err.Error())
		os.Exit(1)
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		logger.Error("reading message file failed", "path", flag.Arg(0), "error", err.Error())
		os.Exit(1)
	}
	var msg email.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Error("parsing message file failed", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	registry, err := providers.BuildRegistry(ctx, cfg)
	if err != nil {
		logger.Error("building provider registry failed", "error", err.Error())
		os.Exit(1)
	}

	sender := relay.New(registry, cfg.Send.LocalRender, cfg.Send.Permissive)
	result, err := sender.Send(ctx, *provider, &msg)
	if err != nil {
		logger.Error("send failed", "provider", *provider, "error", err.Error())
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Error("encoding result failed", "error", err.Error())
		os.Exit(1)
	}
	fmt.Println(string(out))
}
