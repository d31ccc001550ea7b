// Package clicmd implements the vkcluster-probe command-line tool: a small
// operator-facing client for issuing ad-hoc commands and diagnostics
// against a cluster, grounded on this codebase's usual
// flag.NewFlagSet-per-subcommand CLI shape.
package clicmd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"vkcluster/internal/clientcfg"
	"vkcluster/internal/cluster"
	"vkcluster/internal/diagnostics"
)

// Execute dispatches CLI subcommands and returns a process exit code.
func Execute(args []string) int {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[vkcluster-probe] ")

	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "do":
		return runDo(args[1:])
	case "diagnose":
		return runDiagnose(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version", "-v":
		fmt.Println("vkcluster-probe 0.1.0-dev")
		return 0
	default:
		log.Printf("unknown subcommand: %s", args[0])
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Println(`vkcluster-probe - ad-hoc cluster command and diagnostics tool

Usage:
  vkcluster-probe do --config <path> <COMMAND> [args...]
  vkcluster-probe diagnose --config <path>
  vkcluster-probe version`)
}

func runDo(args []string) int {
	fs := flag.NewFlagSet("do", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath string
	fs.StringVar(&configPath, "config", "", "cluster client configuration file (YAML)")
	fs.StringVar(&configPath, "c", "", "cluster client configuration file (YAML)")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		log.Printf("parsing arguments: %v", err)
		return 1
	}
	rest := fs.Args()
	if configPath == "" || len(rest) == 0 {
		log.Println("usage: vkcluster-probe do --config <path> <COMMAND> [args...]")
		return 2
	}

	cfg, err := clientcfg.Load(configPath)
	if err != nil {
		log.Printf("loading config: %v", err)
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	client, err := cluster.New(ctx, cfg)
	if err != nil {
		log.Printf("connecting to cluster: %v", err)
		return 1
	}
	defer client.Close()

	cmd := strings.ToUpper(rest[0])
	reply, err := client.Do(ctx, cmd, rest[1:]...)
	if err != nil {
		log.Printf("%s failed: %v", cmd, err)
		return 1
	}
	fmt.Printf("%v\n", reply)
	return 0
}

func runDiagnose(args []string) int {
	fs := flag.NewFlagSet("diagnose", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath string
	fs.StringVar(&configPath, "config", "", "cluster client configuration file (YAML)")
	fs.StringVar(&configPath, "c", "", "cluster client configuration file (YAML)")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		log.Printf("parsing arguments: %v", err)
		return 1
	}
	if configPath == "" {
		log.Println("usage: vkcluster-probe diagnose --config <path>")
		return 2
	}

	cfg, err := clientcfg.Load(configPath)
	if err != nil {
		log.Printf("loading config: %v", err)
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	client, err := cluster.New(ctx, cfg)
	if err != nil {
		log.Printf("connecting to cluster: %v", err)
		return 1
	}
	defer client.Close()

	mismatches, err := diagnostics.CompareTopology(ctx, diagnostics.Config{
		SeedAddrs: cfg.SeedAddrs(),
		Username:  cfg.Username,
		Password:  cfg.Password,
		Protocol:  cfg.Protocol,
	}, client.SlotMap())
	if err != nil {
		log.Printf("diagnose failed: %v", err)
		return 1
	}
	if len(mismatches) == 0 {
		fmt.Println("topology OK: no mismatches found")
		return 0
	}
	for _, m := range mismatches {
		fmt.Printf("slots %d-%d: want primary %s, have %s\n", m.Start, m.End, m.WantPrimary, m.GotPrimary)
	}
	return 1
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	_ = stop
	return ctx, cancel
}
