package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"adwatch/pkg/config"
)

var version = "dev" // Overridden at build time via -ldflags

const usageText = `adwatch - marketplace listing monitor

Usage: adwatch <command> [flags]

Commands:
  report       Crawl a search URL once and record it as a report
  show-report  Print a report and its items
  reports      List recorded reports
  export       Export a done report as CSV
  list-ads     Crawl a search URL and print listings without persisting
  project      Create a saved search project
  projects     List a user's projects
  refresh      Refresh one project (snapshot + ad diff)
  refresh-all  Refresh every active project of a user
  snapshots    List a project's snapshot history
  validate     Load and validate the configuration, then exit
  version      Print the version

Run 'adwatch <command> -h' for command flags.
`

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel) // Default level

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	if command == "version" {
		fmt.Println(version)
		return
	}

	// Local development DSNs live in .env; absence is not an error
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded environment from .env")
	}

	// --- Global Context & Signal Handling ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()
		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	if err := run(ctx, command, args, log); err != nil {
		log.Errorf("Command %q failed: %v", command, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string, log *logrus.Logger) error {
	switch command {
	case "report":
		return runReport(ctx, args, log)
	case "show-report":
		return runShowReport(ctx, args, log)
	case "reports":
		return runListReports(ctx, args, log)
	case "export":
		return runExport(ctx, args, log)
	case "list-ads":
		return runListAds(ctx, args, log)
	case "project":
		return runCreateProject(ctx, args, log)
	case "projects":
		return runListProjects(ctx, args, log)
	case "refresh":
		return runRefresh(ctx, args, log)
	case "refresh-all":
		return runRefreshAll(ctx, args, log)
	case "snapshots":
		return runSnapshots(ctx, args, log)
	case "validate":
		return runValidate(args, log)
	default:
		fmt.Fprint(os.Stderr, usageText)
		return fmt.Errorf("unknown command %q", command)
	}
}

// loadConfig resolves the shared -config and -loglevel flags every command
// carries. An empty config path means built-in defaults.
func loadConfig(configPath, logLevel string, log *logrus.Logger) (*config.AppConfig, error) {
	if logLevel != "" {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevel, err)
		} else {
			log.SetLevel(level)
		}
	}

	if configPath == "" {
		return config.Default(), nil
	}
	log.Infof("Loading configuration from %s", configPath)
	return config.Load(configPath)
}
