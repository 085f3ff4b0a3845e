package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NodePath81/fbspeed/internal/app"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/NodePath81/fbspeed/internal/version"
)

const defaultConfigPath = "config.yaml"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runCmd := flag.NewFlagSet("run", flag.ExitOnError)
			configPath := runCmd.String("config", defaultConfigPath, "Path to config file")
			_ = runCmd.Parse(os.Args[2:])
			if *configPath == defaultConfigPath && runCmd.NArg() > 0 {
				*configPath = runCmd.Arg(0)
			}
			runMonitor(*configPath)
			return
		case "test":
			os.Exit(runTest(os.Args[2:], os.Stdout))
		case "check":
			checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
			configPath := checkCmd.String("config", defaultConfigPath, "Path to config file")
			_ = checkCmd.Parse(os.Args[2:])
			if *configPath == defaultConfigPath && checkCmd.NArg() > 0 {
				*configPath = checkCmd.Arg(0)
			}
			os.Exit(checkConfig(*configPath, os.Stdout))
		case "interfaces":
			os.Exit(listInterfaces(os.Stdout))
		case "history":
			os.Exit(showHistory(os.Args[2:], os.Stdout))
		case "stats":
			os.Exit(showStatistics(os.Args[2:], os.Stdout))
		case "help", "-h", "--help":
			printHelp()
			return
		case "version", "-v", "--version":
			fmt.Println(version.Version)
			return
		}
	}

	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()
	if *configPath == defaultConfigPath && len(flag.Args()) > 0 {
		*configPath = flag.Arg(0)
	}
	runMonitor(*configPath)
}

func runMonitor(configPath string) {
	logger := util.NewLogger()
	supervisor := app.NewSupervisor(configPath, os.Stdout, logger)
	if err := supervisor.Start(); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			if err := supervisor.Restart(); err != nil {
				logger.Error("reload failed", "error", err)
				os.Exit(1)
			}
			continue
		}
		break
	}
	logger.Info("shutdown requested")
	supervisor.Stop()
}

func printHelp() {
	fmt.Print(`fbspeed - internet speed monitor

Usage:
  fbspeed run --config <path>          Start scheduled monitoring
  fbspeed test [flags]                 Run a single test and print the result
  fbspeed check --config <path>        Validate config file
  fbspeed interfaces                   List local interfaces and bind addresses
  fbspeed history [--limit n]          Show stored results, newest first
  fbspeed history --delete <id>        Delete one stored result
  fbspeed stats [--days n]             Summarize stored results (max 30 days)
  fbspeed help                         Show this help
  fbspeed version                      Print version

Test flags:
  --config <path>     Config file (defaults are used when config.yaml is absent)
  --mode <mode>       cloudflare, ookla or libre
  --interface <name>  Interface to bind to
  --server <id>       Server id for the ookla and libre backends
  --json              Print the raw result record
  --no-store          Do not save the result

Signals:
  SIGHUP reloads the config file while running.
`)
}
