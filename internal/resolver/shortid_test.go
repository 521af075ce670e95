package resolver

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/dyluth/gambit/pkg/world"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIndex mimics the store's ledger index for one session.
type fakeIndex struct {
	hashes []string
	err    error
}

func (f *fakeIndex) ScanEntryHashes(_ context.Context, _ string, prefix string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for _, h := range f.hashes {
		if strings.HasPrefix(strings.TrimPrefix(h, world.HashPrefix), prefix) {
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeIndex) GetEntry(_ context.Context, _ string, hash string) (*world.LedgerEntry, error) {
	for _, h := range f.hashes {
		if h == hash {
			return &world.LedgerEntry{EntryHash: h}, nil
		}
	}
	return nil, redis.Nil
}

func hashOf(hex string) string {
	return world.HashPrefix + hex + strings.Repeat("0", 64-len(hex))
}

func TestResolveEntryHash(t *testing.T) {
	ctx := context.Background()
	idx := &fakeIndex{hashes: []string{hashOf("abc123ff"), hashOf("abc124aa"), hashOf("def456")}}

	t.Run("unique prefix", func(t *testing.T) {
		got, err := ResolveEntryHash(ctx, idx, "s", "def456")
		require.NoError(t, err)
		assert.Equal(t, hashOf("def456"), got)
	})

	t.Run("tagged prefix", func(t *testing.T) {
		got, err := ResolveEntryHash(ctx, idx, "s", "sha256:abc123")
		require.NoError(t, err)
		assert.Equal(t, hashOf("abc123ff"), got)
	})

	t.Run("full hash", func(t *testing.T) {
		got, err := ResolveEntryHash(ctx, idx, "s", strings.TrimPrefix(hashOf("def456"), world.HashPrefix))
		require.NoError(t, err)
		assert.Equal(t, hashOf("def456"), got)
	})

	t.Run("full hash missing", func(t *testing.T) {
		_, err := ResolveEntryHash(ctx, idx, "s", hashOf("999999"))
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ResolveEntryHash(ctx, idx, "s", "abc")
		assert.ErrorContains(t, err, "at least 6")
	})

	t.Run("no match", func(t *testing.T) {
		_, err := ResolveEntryHash(ctx, idx, "s", "777777")
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := ResolveEntryHash(ctx, idx, "s", "abc12")
		require.Error(t, err)
		_, err = ResolveEntryHash(ctx, idx, "s", "abc12a")
		assert.True(t, IsNotFoundError(err))

		idx := &fakeIndex{hashes: []string{hashOf("abc1230"), hashOf("abc1231")}}
		_, err = ResolveEntryHash(ctx, idx, "s", "abc123")
		require.True(t, IsAmbiguousError(err))

		var amb *AmbiguousError
		require.True(t, errors.As(err, &amb))
		msg := FormatAmbiguousError(amb)
		assert.Contains(t, msg, "matches 2 entries")
		assert.Contains(t, msg, hashOf("abc1230"))
	})

	t.Run("index failure", func(t *testing.T) {
		_, err := ResolveEntryHash(ctx, &fakeIndex{err: errors.New("boom")}, "s", "abcdef")
		assert.ErrorContains(t, err, "boom")
	})
}

func TestFormatAmbiguousError_Truncates(t *testing.T) {
	var matches []string
	for i := 0; i < 12; i++ {
		matches = append(matches, hashOf("aaaaaa"))
	}
	msg := FormatAmbiguousError(&AmbiguousError{Prefix: "aaaaaa", Matches: matches})
	assert.Contains(t, msg, "...and 2 more")
}
