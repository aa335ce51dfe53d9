package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/workflow"
)

func main() {
	once := flag.Bool("once", false, "Dispatch a single batch and exit")
	batchSize := flag.Int("batch-size", 50, "Records claimed per batch")
	pollInterval := flag.Duration("poll-interval", 500*time.Millisecond, "Wait between batches")
	maxAttempts := flag.Int("max-attempts", 10, "Publish attempts before a record is marked DEAD")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	defer config.CloseDB()

	d := workflow.NewOutboxDispatcher(config.GetDB(), config.GetLogger())
	d.BatchSize = *batchSize
	d.PollInterval = *pollInterval
	d.MaxAttempts = *maxAttempts

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		sent, err := d.DispatchOnce(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dispatch failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Published %d ledger events\n", sent)
		return
	}
	d.Run(ctx)
}
