// myagent: review-state MCP server
//
// Persists code-review findings, learns fix-pattern confidence, tracks
// agent work sessions with checkpoints, and orders findings by priority.
// Any MCP-capable coding tool can drive it over stdio.
//
// Usage:
//
//	myagent serve [config-file]   # Start MCP server (stdio transport)
//	myagent version               # Print the version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/goodwiins/Myagent-sub003/internal/config"
	agentserver "github.com/goodwiins/Myagent-sub003/internal/server"
)

// configEnv names the variable holding the config file path when none is
// given on the command line.
const configEnv = config.EnvPrefix + "CONFIG"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := run(configPath(os.Args[2:])); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("myagent v%s\n", agentserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func configPath(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return os.Getenv(configEnv)
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	// stdout carries the MCP stdio transport, so logs go to stderr.
	logger, level := agentserver.NewLogger(os.Stderr, cfg.Log)

	s, svc, err := agentserver.New(cfg, logger, level)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("closing store", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if path != "" {
		err := config.Watch(ctx, path, svc.ApplyConfig, func(err error) {
			logger.Warn("config reload failed", "err", err)
		})
		if err != nil {
			logger.Warn("config hot reload disabled", "path", path, "err", err)
		}
	}

	logger.Info("serving on stdio", "version", agentserver.Version)
	return server.ServeStdio(s)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `myagent v%s: review-state MCP server

Usage:
  myagent serve [config-file]   Start the MCP server (stdio transport)
  myagent version               Print the version

Configuration:
  The config file may be .toml, .yaml or .json and is reloaded on change.
  Without an argument the path is read from %s.
  Every setting can be overridden with %s* variables (e.g. %sDATA_DIR).

  Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "myagent": {
        "command": "myagent",
        "args": ["serve"]
      }
    }
  }
`, agentserver.Version, configEnv, config.EnvPrefix, config.EnvPrefix)
}
