/*
Package archive keeps a copy of every downloaded report document and the
summary of the run that consumed it, so a sync can be inspected after the
upstream document URL has expired.

Archiving is best-effort: the sync orchestrator reports failures through
the observer and carries on.

LAYOUT:
  <prefix>/<kind>/<YYYY-MM-DD>/<reportID>.tsv
  <prefix>/<kind>/<YYYY-MM-DD>/<reportID>.summary.json
*/
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Archiver stores named blobs.
type Archiver interface {
	Put(ctx context.Context, name, contentType string, data []byte) error
}

// DocumentName is the archive name of a raw report document.
func DocumentName(kind, reportID string, day time.Time) string {
	return path.Join(kind, day.UTC().Format("2006-01-02"), reportID+".tsv")
}

// SummaryName is the archive name of a run summary.
func SummaryName(kind, reportID string, day time.Time) string {
	return path.Join(kind, day.UTC().Format("2006-01-02"), reportID+".summary.json")
}

// =============================================================================
// DIRECTORY
// =============================================================================

// Dir archives to a local directory.
type Dir struct {
	root string
}

func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) Put(_ context.Context, name, _ string, data []byte) error {
	clean := filepath.FromSlash(path.Clean("/" + name))
	full := filepath.Join(d.root, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("archive mkdir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("archive write %s: %w", name, err)
	}
	return nil
}

// =============================================================================
// GOOGLE CLOUD STORAGE
// =============================================================================

// GCS archives to a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSClient creates a storage client. Empty credentialsJSON uses
// application default credentials.
func NewGCSClient(ctx context.Context, credentialsJSON string) (*storage.Client, error) {
	if strings.TrimSpace(credentialsJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	return storage.NewClient(ctx)
}

func NewGCS(client *storage.Client, bucket, prefix string) *GCS {
	return &GCS{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (g *GCS) Put(ctx context.Context, name, contentType string, data []byte) error {
	object := name
	if g.prefix != "" {
		object = g.prefix + "/" + name
	}
	wc := g.client.Bucket(g.bucket).Object(object).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("gcs write %s: %w", object, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("gcs close %s: %w", object, err)
	}
	return nil
}

// =============================================================================
// NOP
// =============================================================================

// Nop discards everything.
type Nop struct{}

func (Nop) Put(context.Context, string, string, []byte) error { return nil }
