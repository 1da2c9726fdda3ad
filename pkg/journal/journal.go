// Package journal persists one JSON record per completed game tick for
// audit and offline analysis, alongside the tick-summary row the Market
// Store keeps. The flat-file form survives a database outage and is
// greppable by operators without a SQL session.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TickRecord captures one end-to-end tick for audit and analysis.
type TickRecord struct {
	Timestamp           time.Time      `json:"timestamp"`
	TickNo              int64          `json:"tick_no"`
	FencingToken        int64          `json:"fencing_token"`
	NPCsDecided         int            `json:"npcs_decided"`
	TradesAttempted     int            `json:"trades_attempted"`
	TradesSucceeded     int            `json:"trades_succeeded"`
	MarketsResolved     int            `json:"markets_resolved"`
	PositionsLiquidated int            `json:"positions_liquidated"`
	FundingApplied      int            `json:"funding_applied"`
	DurationMs          int64          `json:"duration_ms"`
	FailedIntents       []string       `json:"failed_intents,omitempty"`
	Success             bool           `json:"success"`
	ErrorMessage        string         `json:"error_message,omitempty"`
	Extra               map[string]any `json:"extra,omitempty"`
}

// Writer persists tick records to a directory as JSON files (journal style).
type Writer struct {
	dir   string
	seq   int
	nowFn func() time.Time
}

// NewWriter constructs a journal writer.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "journal"
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Writer{dir: dir, nowFn: time.Now}
}

// WriteTick writes a tick record to a timestamped JSON file.
func (w *Writer) WriteTick(rec *TickRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	w.seq++
	name := fmt.Sprintf("tick_%s_%05d.json", rec.Timestamp.UTC().Format("20060102_150405"), w.seq)
	path := filepath.Join(w.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
