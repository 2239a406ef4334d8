package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/moverse/agentdesk/internal/config"
	"github.com/moverse/agentdesk/internal/console"
	"github.com/moverse/agentdesk/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
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
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		console.Module(console.Params{ProfileName: profileName, Config: cfg}),
	)

	app.Run()
}
