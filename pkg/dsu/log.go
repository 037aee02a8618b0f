package dsu

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/marmos91/dittodsu/pkg/fault"
)

// LogPath is the unit-local activity log. Entries are JSON lines.
const LogPath = "/dsu-metadata-log/log"

// Log events written by this module.
const (
	LogEventInit = "init"
)

// LogEntry is one line of the activity log.
type LogEntry struct {
	Event   string `json:"event"`
	Time    int64  `json:"time"`
	Details string `json:"details,omitempty"`
}

// AddLogEntry appends an entry to the activity log of this unit. Mounts
// are never resolved for the log.
func (d *DSU) AddLogEntry(ctx context.Context, event, details string) error {
	line, err := json.Marshal(LogEntry{
		Event:   event,
		Time:    d.now().UnixMilli(),
		Details: details,
	})
	if err != nil {
		return fault.Classify(fault.Unknown, err, "failed to encode log entry")
	}
	return d.AppendToFile(ctx, LogPath, append(line, '\n'), &Options{IgnoreMounts: true})
}

// ReadLog returns the activity log of this unit, oldest entry first.
func (d *DSU) ReadLog(ctx context.Context) ([]LogEntry, error) {
	data, err := d.ReadFile(ctx, LogPath, &Options{IgnoreMounts: true})
	if err != nil {
		if fault.IsMissingData(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []LogEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fault.Classify(fault.DataInput, err, "malformed activity log")
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fault.Classify(fault.DataInput, err, "malformed activity log")
	}
	return entries, nil
}

// LogTime returns the entry time.
func (e LogEntry) LogTime() time.Time { return time.UnixMilli(e.Time) }
