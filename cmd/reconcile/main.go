// Command reconcile compares an event's attendance summaries with totals
// recomputed from the session ledger and, with -fix, repairs the drift.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/attendance"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/database"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/utilities"
)

// exit codes
const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitDrifted = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code so deferred cleanup finishes before exit.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	eventID := fs.Int64("event", 0, "event id to reconcile")
	fix := fs.Bool("fix", false, "overwrite drifted summaries with ledger totals")
	timeout := fs.Duration("timeout", 2*time.Minute, "overall timeout")
	if err := fs.Parse(args); err != nil || *eventID <= 0 {
		fmt.Fprintln(stderr, "usage: reconcile -event N [-fix]")
		return exitUsage
	}

	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(stderr, "failed to init logger: %v\n", err)
		return exitFailed
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	sqlDB, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Errorw("db connect failed", utilities.FieldError, err)
		return exitFailed
	}
	defer sqlDB.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	r := attendance.NewReconciler(database.Wrap(sqlDB), sugar)
	check := r.Check
	if *fix {
		check = r.Fix
	}
	drift, err := check(ctx, *eventID)
	if err != nil {
		sugar.Errorw("reconcile failed", utilities.FieldEventID, *eventID, utilities.FieldError, err)
		return exitFailed
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{"eventId": *eventID, "fixed": *fix, "drift": drift})
	if len(drift) > 0 && !*fix {
		return exitDrifted
	}
	return exitOK
}
