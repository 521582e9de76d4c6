// Package storage turns file nodes into fetchable document URLs.
package storage

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/fruitsalade/docnav/internal/config"
	"github.com/fruitsalade/docnav/internal/metrics"
	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/tree"
)

// Signer produces the URL a client fetches a document from.
type Signer interface {
	// Name identifies the backend in metrics and logs.
	Name() string
	// URL returns a fetchable URL for an object key.
	URL(ctx context.Context, key string) (string, error)
}

// NewFromConfig builds the signer selected by storage_backend.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Signer, error) {
	switch cfg.StorageBackend {
	case "", "static":
		return NewStatic(cfg.StorageBaseURL), nil
	case "s3":
		return NewS3(ctx, S3Config{
			Endpoint:   cfg.S3Endpoint,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Region:     cfg.S3Region,
			UseSSL:     cfg.S3UseSSL,
			PresignTTL: cfg.S3PresignTTL,
		})
	}
	return nil, errors.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// ObjectKey is the stored key of a file node. Nodes without one are keyed by
// id plus the extension of their MIME type, so the share identifier derived
// from the final URL is the node id.
func ObjectKey(n *models.Node) string {
	if n.URL != "" {
		return strings.TrimPrefix(n.URL, "/")
	}
	return n.ID + models.MimeExtension(n.Mime)
}

// isAbsolute reports whether a stored URL already points somewhere.
func isAbsolute(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Decorate rewrites the URL of every file in root, which must be a private
// copy. Absolute URLs are kept as stored. Signing failures leave the URL empty.
func Decorate(ctx context.Context, s Signer, root *models.Node) {
	if s == nil {
		return
	}
	tree.Walk(root, func(n *models.Node) bool {
		if !n.IsFile() || isAbsolute(n.URL) {
			return true
		}
		start := time.Now()
		signed, err := s.URL(ctx, ObjectKey(n))
		metrics.RecordStorageSign(s.Name(), time.Since(start), err == nil)
		if err != nil {
			n.URL = ""
			return true
		}
		n.URL = signed
		return true
	})
}

// Static serves documents from a fixed base URL.
type Static struct {
	base string
}

// NewStatic creates a static signer.
func NewStatic(baseURL string) *Static {
	return &Static{base: strings.TrimSuffix(baseURL, "/")}
}

func (s *Static) Name() string { return "static" }

func (s *Static) URL(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", errors.New("empty object key")
	}
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.base + "/" + strings.Join(parts, "/"), nil
}
