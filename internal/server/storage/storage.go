// Package storage keeps signature images and KYC documents in an
// S3-compatible object store. Records only hold object keys.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BlobStore is the object storage capability used by the services.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignGet(ctx context.Context, key string) (string, error)
	PresignPut(ctx context.Context, key string) (string, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// SignatureKey returns a fresh key for a signature image of contractID.
func SignatureKey(contractID, role string) string {
	return fmt.Sprintf("contracts/%s/%s-%s.png", contractID, role, uuid.New())
}

// KYCDocumentKey returns a fresh key for an identity document of userID.
func KYCDocumentKey(userID string, now time.Time) string {
	return fmt.Sprintf("kyc/%d/%02d/%02d/%s/%s", now.Year(), now.Month(), now.Day(), userID, uuid.New())
}

// OwnsKYCKey reports whether key was issued to userID by KYCDocumentKey.
func OwnsKYCKey(userID, key string) bool {
	parts := strings.Split(key, "/")
	return len(parts) == 6 && parts[0] == "kyc" && parts[4] == userID
}
