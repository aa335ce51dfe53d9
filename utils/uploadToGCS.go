package utils

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC; GCS_CREDENTIALS_JSON allows explicit credentials locally.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// ArchiveFileToGCS stores data under objectName in bucketName.
func ArchiveFileToGCS(ctx context.Context, bucketName string, objectName string, data []byte) error {
	if bucketName == "" {
		return fmt.Errorf("bucket is required")
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	mimeType := http.DetectContentType(data)
	// xlsx files sniff as zip
	if mimeType == "application/zip" && strings.HasSuffix(objectName, ".xlsx") {
		mimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if strings.HasSuffix(objectName, ".csv") {
		mimeType = "text/csv"
	}

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = mimeType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("failed to write object %s: %v", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close object %s: %v", objectName, err)
	}
	return nil
}
