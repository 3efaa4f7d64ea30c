package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecords(t *testing.T, path string, recs ...string) int64 {
	t.Helper()
	w, err := OpenWrite(path, 0)
	require.NoError(t, err)
	var off int64
	for _, r := range recs {
		off, err = w.Append([]byte(r))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return off
}

func TestReplay_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	end := writeRecords(t, path, "a", "bb", "ccc")

	var got []string
	st, err := Replay(path, ReplayOptions{}, func(p []byte) error {
		got = append(got, string(p))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bb", "ccc"}, got)
	assert.Equal(t, 3, st.Records)
	assert.Equal(t, end, st.LastGoodOffset)
	assert.False(t, st.TruncatedTail)
}

func TestReplay_MissingFile(t *testing.T) {
	st, err := Replay(filepath.Join(t.TempDir(), "nope.wal"), ReplayOptions{}, func([]byte) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, st.Records)
}

func TestReplay_TruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	good := writeRecords(t, path, "first", "second")

	// 模拟崩溃：写了一半的 header
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{9, 0, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Replay(path, ReplayOptions{}, func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrCorruptHeader)

	st, err := Replay(path, ReplayOptions{AllowTruncatedTail: true}, func([]byte) error { return nil })
	require.NoError(t, err)
	assert.True(t, st.TruncatedTail)
	assert.Equal(t, good, st.LastGoodOffset)

	require.NoError(t, TruncateTo(path, st.LastGoodOffset))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, good, info.Size())
}

func TestReplay_ChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	writeRecords(t, path, "payload")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = Replay(path, ReplayOptions{}, func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}
