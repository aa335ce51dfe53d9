package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/models"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"bitbucket.org/mmdatafocus/tradeledger_backend/workflow"
)

func main() {
	operationID := flag.Int("operation-id", 0, "Optional: reconcile only this operation")
	failOnError := flag.Bool("fail-on-error", false, "Exit non-zero when any operation fails to reconcile")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	defer config.CloseDB()
	config.ConnectRedisWithRetry()

	logger := config.GetLogger()
	ctx := utils.SetActorInContext(context.Background(), "reconcile-all")

	if *operationID > 0 {
		if err := models.ReconcileOperation(ctx, *operationID); err != nil {
			fmt.Fprintf(os.Stderr, "reconcile operation %d failed: %v\n", *operationID, err)
			os.Exit(1)
		}
		fmt.Printf("Reconciled operation %d\n", *operationID)
		return
	}

	summary, err := workflow.ReconcileAll(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile sweep failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reconciled %d operations, %d failed\n", summary.Checked, len(summary.Failed))

	ids := make([]int, 0, len(summary.Failed))
	for id := range summary.Failed {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fmt.Fprintf(os.Stderr, "operation %d: %v\n", id, summary.Failed[id])
	}
	if *failOnError && len(ids) > 0 {
		os.Exit(1)
	}
}
