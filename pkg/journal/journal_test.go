package journal_test

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"simengine/pkg/journal"
)

func TestWriter_WriteTick(t *testing.T) {
	dir := t.TempDir()
	w := journal.NewWriter(dir)

	path, err := w.WriteTick(&journal.TickRecord{
		TickNo:          7,
		NPCsDecided:     3,
		TradesAttempted: 5,
		TradesSucceeded: 4,
		FailedIntents:   []string{"npc-1-0"},
		Success:         true,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec journal.TickRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, int64(7), rec.TickNo)
	require.Equal(t, 4, rec.TradesSucceeded)
	require.Equal(t, []string{"npc-1-0"}, rec.FailedIntents)
	require.False(t, rec.Timestamp.IsZero())
}

func TestWriter_WriteTick_NilRecord(t *testing.T) {
	w := journal.NewWriter(t.TempDir())
	_, err := w.WriteTick(nil)
	require.Error(t, err)
}
