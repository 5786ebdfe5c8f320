package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braingenix/bglog/internal/model"
)

func spoolRecord(msg string) model.Record {
	return model.Record{
		Level:     model.LevelWarning,
		Timestamp: model.Stamp(time.Date(2024, 1, 2, 3, 4, 5, 6000, time.UTC)),
		Module:    "spool",
		Function:  "test",
		Message:   msg,
		NodeID:    "n1",
	}
}

func messages(recs []model.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Message
	}
	return out
}

func TestSpoolPeekAdvance(t *testing.T) {
	s, err := OpenSpool(filepath.Join(t.TempDir(), SpoolFileName))
	require.NoError(t, err)
	defer s.Close()

	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, s.Append(spoolRecord(m)))
	}
	assert.Equal(t, 3, s.Pending())

	recs, err := s.Peek(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, messages(recs))
	assert.Equal(t, spoolRecord("a"), recs[0])

	// Peek alone consumes nothing.
	recs, err = s.Peek(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, messages(recs))

	require.NoError(t, s.Advance(2))
	assert.Equal(t, 1, s.Pending())

	recs, err = s.Peek(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, messages(recs))
	require.NoError(t, s.Advance(1))
	assert.Zero(t, s.Pending())

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	assert.Error(t, s.Advance(1))
}

func TestSpoolPrependKeepsOrder(t *testing.T) {
	s, err := OpenSpool(filepath.Join(t.TempDir(), SpoolFileName))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(spoolRecord("new-1")))
	require.NoError(t, s.Append(spoolRecord("new-2")))
	_, err = s.Peek(1)
	require.NoError(t, err)
	require.NoError(t, s.Advance(1))

	require.NoError(t, s.Prepend([]model.Record{spoolRecord("old-1"), spoolRecord("old-2")}))
	require.NoError(t, s.Append(spoolRecord("new-3")))
	assert.Equal(t, 4, s.Pending())

	recs, err := s.Peek(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"old-1", "old-2", "new-2", "new-3"}, messages(recs))
}

func TestSpoolRecoversTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), SpoolFileName)
	s, err := OpenSpool(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(spoolRecord("kept-1")))
	require.NoError(t, s.Append(spoolRecord("kept-2")))
	require.NoError(t, s.Close())

	before, err := os.Stat(path)
	require.NoError(t, err)

	// A crash in the middle of an append leaves a partial frame.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{40, 0, 0, 0, '{', '"', 'l'})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, err = OpenSpool(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 2, s.Pending())

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.Size(), after.Size())

	require.NoError(t, s.Append(spoolRecord("kept-3")))
	recs, err := s.Peek(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept-1", "kept-2", "kept-3"}, messages(recs))
}

func TestSpoolCloseCompacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), SpoolFileName)
	s, err := OpenSpool(path)
	require.NoError(t, err)
	for _, m := range []string{"done", "left"} {
		require.NoError(t, s.Append(spoolRecord(m)))
	}
	_, err = s.Peek(1)
	require.NoError(t, err)
	require.NoError(t, s.Advance(1))
	require.NoError(t, s.Close())

	s, err = OpenSpool(path)
	require.NoError(t, err)
	defer s.Close()
	recs, err := s.Peek(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"left"}, messages(recs))
}
