// Package resolver expands short ledger entry hashes typed at the CLI.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dyluth/gambit/internal/store"
	"github.com/dyluth/gambit/pkg/world"
)

// MinPrefixLength is the minimum number of hex digits accepted as a prefix.
const MinPrefixLength = 6

// fullHexLength is the length of a SHA-256 digest in hex.
const fullHexLength = 64

// EntryIndex is the part of the store the resolver needs.
type EntryIndex interface {
	ScanEntryHashes(ctx context.Context, sessionID, prefix string) ([]string, error)
	GetEntry(ctx context.Context, sessionID, entryHash string) (*world.LedgerEntry, error)
}

// ResolveEntryHash resolves an entry hash or hash prefix to the full
// "sha256:<hex>" entry hash. The "sha256:" tag is optional.
func ResolveEntryHash(ctx context.Context, idx EntryIndex, sessionID, input string) (string, error) {
	hex := strings.ToLower(strings.TrimPrefix(input, world.HashPrefix))

	if len(hex) == fullHexLength {
		full := world.HashPrefix + hex
		if _, err := idx.GetEntry(ctx, sessionID, full); err != nil {
			if store.IsNotFound(err) {
				return "", &NotFoundError{Prefix: input}
			}
			return "", fmt.Errorf("failed to verify entry existence: %w", err)
		}
		return full, nil
	}

	if len(hex) < MinPrefixLength {
		return "", fmt.Errorf("hash prefix must be at least %d characters (got %d)", MinPrefixLength, len(hex))
	}

	matches, err := idx.ScanEntryHashes(ctx, sessionID, hex)
	if err != nil {
		return "", fmt.Errorf("failed to search ledger index: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Prefix: input}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{Prefix: input, Matches: matches}
	}
}

// NotFoundError indicates no entry matched the prefix.
type NotFoundError struct {
	Prefix string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no ledger entries found matching '%s'", e.Prefix)
}

// AmbiguousError indicates several entries matched the prefix.
type AmbiguousError struct {
	Prefix  string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous hash prefix '%s' matches %d entries", e.Prefix, len(e.Matches))
}

// FormatAmbiguousError lists up to 10 matching hashes for display.
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: ambiguous hash prefix '%s' matches %d entries:\n", err.Prefix, len(err.Matches))

	shown := min(len(err.Matches), 10)
	for _, m := range err.Matches[:shown] {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	if len(err.Matches) > shown {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-shown)
	}

	b.WriteString("\nUse a longer prefix to uniquely identify the entry.")
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var amb *AmbiguousError
	return errors.As(err, &amb)
}
