package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/moverse/agentdesk/internal/config"
	"github.com/moverse/agentdesk/internal/profile"
	"github.com/moverse/agentdesk/internal/server"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	ttlFlag := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	config.LoadDotenv()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "token":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: agentdeskctl token <agent-name>")
			os.Exit(1)
		}
		cmdToken(cfg, args[1], *ttlFlag)
	case "status":
		cmdStatus(cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func cmdToken(cfg *config.Config, agent string, ttl time.Duration) {
	if cfg.Server.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "error: server.jwt_secret is not configured")
		os.Exit(1)
	}
	token, err := server.NewTokenManager(cfg.Server.JWTSecret, ttl).Issue(agent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func cmdStatus(cfg *config.Config) {
	url := "http://" + cfg.Server.ListenAddr + "/healthz"
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: daemon not reachable at %s: %v\n", cfg.Server.ListenAddr, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var status map[string]any
	if err := json.Unmarshal(body, &status); err != nil {
		fmt.Fprintf(os.Stderr, "error: unexpected response: %s\n", body)
		os.Exit(1)
	}
	fmt.Printf("daemon: %v\n", status["status"])
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: agentdeskctl [--profile <name>] [--ttl <duration>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  token <agent>    Mint a console bearer token")
	fmt.Fprintln(os.Stderr, "  status           Check daemon health")
}
