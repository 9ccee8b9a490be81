// Command mattercertis drives one site's crawl/validate/status cycle from
// the terminal. Grounded on cli/cmd/ariadne/main.go's stdlib flag parsing,
// signal-driven graceful shutdown, and JSON snapshot reporting to stderr —
// narrowed to three subcommands instead of flat flags, since this system's
// operations (crawl, validate, status) are mutually exclusive per
// invocation rather than composable pipeline stages.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"mattercertis"
	"mattercertis/models"
)

const (
	exitSuccess      = 0
	exitConfigError  = 1
	exitNetworkError = 2
	exitCancelled    = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitConfigError
	}

	switch args[0] {
	case "crawl":
		return runCrawl(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "status":
		return runStatus(args[1:])
	default:
		usage()
		return exitConfigError
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mattercertis <crawl|validate|status> [flags]")
}

func commonFlags(fs *flag.FlagSet) (baseURL, configPath, dsn *string) {
	baseURL = fs.String("base-url", "", "catalogue root URL (required)")
	configPath = fs.String("config", "", "path to YAML configuration file")
	dsn = fs.String("db", "mattercertis.db", "sqlite database path")
	return
}

func runCrawl(args []string) int {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	baseURL, configPath, dsn := commonFlags(fs)
	snapshotEvery := fs.Duration("snapshot-interval", 10*time.Second, "interval between progress snapshots (0=disabled)")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}
	if *baseURL == "" {
		fmt.Fprintln(os.Stderr, "crawl: -base-url is required")
		return exitConfigError
	}

	eng, err := mattercertis.New(mattercertis.Options{BaseURL: *baseURL, ConfigPath: *configPath, DSN: *dsn})
	if err != nil {
		log.Printf("crawl: %v", err)
		return exitConfigError
	}
	defer func() { _ = eng.Close() }()

	sessionID, err := eng.StartCrawl()
	if err != nil {
		log.Printf("crawl: start session: %v", err)
		return exitNetworkError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; cancelling session")
		_ = eng.Cancel(context.Background(), sessionID)
	}()

	var tickC <-chan time.Time
	if *snapshotEvery > 0 {
		ticker := time.NewTicker(*snapshotEvery)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-tickC:
			printSnapshot(ctx, eng, sessionID)
		case <-time.After(200 * time.Millisecond):
			snap, err := eng.SessionStatus(ctx, sessionID)
			if err != nil {
				continue
			}
			if isTerminal(snap.Status) {
				printSnapshotValue(snap)
				return exitCodeFor(snap)
			}
		}
	}
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	baseURL, configPath, dsn := commonFlags(fs)
	sessionID := fs.String("session-id", "validation", "session id to tag validation events with")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}
	if *baseURL == "" {
		fmt.Fprintln(os.Stderr, "validate: -base-url is required")
		return exitConfigError
	}

	eng, err := mattercertis.New(mattercertis.Options{BaseURL: *baseURL, ConfigPath: *configPath, DSN: *dsn})
	if err != nil {
		log.Printf("validate: %v", err)
		return exitConfigError
	}
	defer func() { _ = eng.Close() }()

	report, err := eng.Validate(context.Background(), *sessionID)
	if err != nil {
		log.Printf("validate: %v", err)
		return exitNetworkError
	}
	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))
	if len(report.Divergences) > 0 {
		return exitNetworkError
	}
	return exitSuccess
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	baseURL, configPath, dsn := commonFlags(fs)
	sessionID := fs.String("session-id", "", "session id to query (required)")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}
	if *baseURL == "" || *sessionID == "" {
		fmt.Fprintln(os.Stderr, "status: -base-url and -session-id are required")
		return exitConfigError
	}

	eng, err := mattercertis.New(mattercertis.Options{BaseURL: *baseURL, ConfigPath: *configPath, DSN: *dsn})
	if err != nil {
		log.Printf("status: %v", err)
		return exitConfigError
	}
	defer func() { _ = eng.Close() }()

	snap, err := eng.SessionStatus(context.Background(), *sessionID)
	if err != nil {
		log.Printf("status: %v", err)
		return exitNetworkError
	}
	printSnapshotValue(snap)
	return exitSuccess
}

func printSnapshot(ctx context.Context, eng *mattercertis.Engine, sessionID string) {
	snap, err := eng.SessionStatus(ctx, sessionID)
	if err != nil {
		return
	}
	printSnapshotValue(snap)
}

func printSnapshotValue(snap *models.Session) {
	b, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Fprintf(os.Stderr, "\n=== SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(b))
}

func isTerminal(s models.SessionStatus) bool {
	switch s {
	case models.SessionCompleted, models.SessionFailed, models.SessionStopped:
		return true
	default:
		return false
	}
}

func exitCodeFor(snap *models.Session) int {
	switch snap.Status {
	case models.SessionCompleted:
		return exitSuccess
	case models.SessionStopped:
		return exitCancelled
	default:
		return exitNetworkError
	}
}
