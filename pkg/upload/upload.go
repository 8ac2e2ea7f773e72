// Package upload publishes report table snapshots to object storage.
package upload

import (
	"context"

	"github.com/ethpandaops/buildstatsoor/pkg/sheet"
)

// Uploader uploads table snapshots to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Upload stores snap as CSV under the configured prefix and day and
	// returns the object key.
	Upload(ctx context.Context, day string, snap *sheet.Snapshot) (string, error)
}
