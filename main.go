// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/petervdpas/parley/internal/app"
	"github.com/petervdpas/parley/internal/config"
)

const configName = "parley.json"

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Parley v%s\n", appVersion)
		return
	}

	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	command := args[0]

	switch command {
	case "relay":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: relay command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: parley relay <directory>")
			os.Exit(1)
		}
		runRelay(args[1])

	case "client":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: client command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: parley client <directory> [-call <id>]")
			os.Exit(1)
		}
		fs := flag.NewFlagSet("client", flag.ExitOnError)
		target := fs.String("call", "", "Invite this session id once online")
		_ = fs.Parse(args[2:])
		runClient(args[1], *target)

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

// prepare resolves the directory and loads (or creates) its config.
func prepare(dirArg string) (string, string, config.Config) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Cannot create directory %s: %v", absDir, err)
	}

	cfgPath := filepath.Join(absDir, configName)
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("CONFIG: wrote defaults to %s", cfgPath)
	}
	return absDir, cfgPath, cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()
	return ctx, cancel
}

func runRelay(dirArg string) {
	dir, cfgPath, cfg := prepare(dirArg)
	printBanner("Relay", dir, cfgPath)
	fmt.Printf("Listening:      %s:%d\n", cfg.Relay.Bind, cfg.Relay.Port)
	fmt.Println()

	ctx, cancel := signalContext()
	defer cancel()

	if err := app.RunRelay(ctx, app.Options{
		Dir:     dir,
		CfgPath: cfgPath,
		Cfg:     cfg,
	}); err != nil {
		log.Fatalf("Relay failed: %v", err)
	}
}

func runClient(dirArg, target string) {
	dir, cfgPath, cfg := prepare(dirArg)
	printBanner("Participant", dir, cfgPath)
	fmt.Printf("Relay:          %s\n", cfg.Client.RelayURL)
	fmt.Printf("Languages:      speak %s, hear %s\n", cfg.Client.FromLang, cfg.Client.ToLang)
	if cfg.Client.Name != "" {
		fmt.Printf("Name:           %s\n", cfg.Client.Name)
	}
	fmt.Println()
	fmt.Println("Type /help for commands.")
	fmt.Println()

	ctx, cancel := signalContext()
	defer cancel()

	if err := app.RunClient(ctx, app.ClientOptions{
		Dir:        dir,
		CfgPath:    cfgPath,
		Cfg:        cfg,
		CallTarget: target,
	}); err != nil {
		log.Fatalf("Participant failed: %v", err)
	}
}

func showUsage() {
	fmt.Println("Parley - translated two-party calls")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  parley relay <directory>               Run the signaling and translation relay")
	fmt.Println("  parley client <directory> [-call <id>] Run a participant on the console")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  relay <directory>")
	fmt.Println("        Serve participants over websocket at /ws")
	fmt.Println("        A default parley.json is written to the directory if missing")
	fmt.Println()
	fmt.Println("  client <directory>")
	fmt.Println("        Connect to client.relay_url from the directory's parley.json")
	fmt.Println("        -call <id>  invite that session as soon as the relay welcomes us")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  PARLEY_*  overrides config fields, e.g. PARLEY_RELAY_PORT=9000")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  parley relay ./relay")
	fmt.Println("  parley client ./alice")
	fmt.Println("  parley client ./bob -call 3f2c9a1e-...")
}

func printBanner(mode, dir, cfgPath string) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Printf("║ %-54s ║\n", "Parley "+mode)
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Directory:      %s\n", dir)
	fmt.Printf("Config File:    %s\n", cfgPath)
}
