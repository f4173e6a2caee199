// Package upstream defines the abstract network-share capability the
// core requires and provides two concrete implementations: a local/UNC
// filesystem reader and an S3-backed reader.
package upstream

import (
	"context"

	"github.com/wincachefs/wincachefs/pkg/types"
)

// Reader is the capability the core requires of a network share. Callers
// never write, rename, or delete through it — the core has no write path.
type Reader interface {
	// ReadAll reads the full contents of location into memory.
	ReadAll(ctx context.Context, location types.UpstreamLocation) ([]byte, error)

	// ReadRange reads [offset, offset+length) of location without caching
	// it, for NeverCache paths served straight through.
	ReadRange(ctx context.Context, location types.UpstreamLocation, offset, length int64) ([]byte, error)

	// Enumerate lists the immediate children of a directory location.
	Enumerate(ctx context.Context, location types.UpstreamLocation) ([]types.ObjectMeta, error)

	// ChildLocation composes a child's upstream location from a parent
	// directory location and a child name, using whatever separator and
	// join rule this reader's backing store requires (e.g. '\' for a
	// UNC/local share, '/' for an S3 key). Upstream locations are
	// otherwise opaque strings.
	ChildLocation(parent types.UpstreamLocation, name string) types.UpstreamLocation
}
