package ledgerview

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/gambit/internal/resolver"
)

// GetEntry resolves a full or short entry hash and writes the entry as
// indented JSON.
func GetEntry(ctx context.Context, src resolver.EntryIndex, sessionID, hashOrPrefix string, w io.Writer) error {
	full, err := resolver.ResolveEntryHash(ctx, src, sessionID, hashOrPrefix)
	if err != nil {
		return err
	}

	entry, err := src.GetEntry(ctx, sessionID, full)
	if err != nil {
		return fmt.Errorf("failed to fetch ledger entry: %w", err)
	}

	return FormatSingleJSON(w, entry)
}
