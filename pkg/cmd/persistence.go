// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence/memory"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence/postgresql"
)

// NewPersistence creates the persistence backend selected by the database
// URL scheme: postgres:// for the durable store, memory:// for tests and
// local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "memory":
		return memory.NewPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported database url %q", databaseURL)
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return provider
}
