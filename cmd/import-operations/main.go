package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/importer"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
)

func main() {
	filePath := flag.String("file", "", "Path to a .csv or .xlsx file of operations")
	templatePath := flag.String("template", "", "Write an example .xlsx template to this path and exit")
	flag.Parse()

	if strings.TrimSpace(*templatePath) != "" {
		if err := writeTemplate(*templatePath); err != nil {
			fmt.Fprintf(os.Stderr, "write template: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Template written to %s\n", *templatePath)
		return
	}
	if strings.TrimSpace(*filePath) == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		os.Exit(1)
	}

	f, err := os.Open(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	defer config.CloseDB()
	config.ConnectRedisWithRetry()

	ctx := utils.SetActorInContext(context.Background(), "import-operations")
	result, err := importer.ImportFile(ctx, f, *filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}

	for _, op := range result.Created {
		ref := ""
		if op.ExternalReference != nil {
			ref = *op.ExternalReference
		}
		fmt.Printf("Created operation %d %s margin=%s\n", op.ID, ref, op.ComputedMargin.StringFixed(2))
	}
	for _, rowErr := range result.Errors {
		fmt.Fprintln(os.Stderr, rowErr.Error())
	}
	fmt.Printf("%d created, %d failed\n", len(result.Created), len(result.Errors))
	if len(result.Errors) > 0 {
		os.Exit(2)
	}
}

func writeTemplate(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := importer.WriteTemplate(out); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
