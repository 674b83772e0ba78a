// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// Message is the indexed shape of a single message row.
type Message struct {
	MessageID        string
	ThreadID         string
	Direction        string
	Source           string
	Destination      string
	TsMs             int64
	Title            string
	Body             string
	ReceiptStatus    sql.NullString
	StatusReasonCode sql.NullString
	HasAttachments   bool
	HasPaper         bool
	FieldsJSON       sql.NullString
	UpdatedAtMs      int64
}

// Attachment is one row extracted from a message's fields.
type Attachment struct {
	ID           int64
	MessageID    string
	Ordinal      int
	Name         string
	Mime         string
	SizeBytes    int64
	InlineBase64 string
}

// ThreadSummary is the rebuilt-from-messages per-thread aggregate.
type ThreadSummary struct {
	ThreadID       string
	DisplayName    string
	Preview        string
	LastMessageID  sql.NullString
	LastActivityMs int64
	UnreadCount    int64
	Pinned         bool
	Muted          bool
}

// PeerSummary is the minimal peer shape used to backfill thread display
// names after a bulk reindex.
type PeerSummary struct {
	Peer string
	Name string
}

// Store is the embedded relational+FTS index. All access is serialized by
// mu, matching a single *sql.DB connection (SetMaxOpenConns(1)).
type Store struct {
	mu    sync.Mutex
	db    *sql.DB
	ready atomic.Bool
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	if err := openSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply index schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ready reports whether the index has completed at least one ingest.
func (s *Store) Ready() bool {
	return s.ready.Load()
}

func currentTimestampMs() int64 {
	return time.Now().UnixMilli()
}

// normalizeTimestamp scales a raw timestamp to epoch milliseconds: values
// at or above 10^12 are assumed already in ms, otherwise seconds.
func normalizeTimestamp(raw float64) int64 {
	if raw >= 1e12 {
		return int64(raw)
	}
	return int64(raw * 1000)
}

// deriveStatusReasonCode maps receipt_status text to a status_reason_code.
// Match order matters: "receipt timeout" must win over plain "timeout".
func deriveStatusReasonCode(receiptStatus string) string {
	lower := strings.ToLower(receiptStatus)
	switch {
	case lower == "":
		return ""
	case strings.Contains(lower, "receipt timeout"):
		return "receipt_timeout"
	case strings.Contains(lower, "timeout"):
		return "timeout"
	case strings.Contains(lower, "no route"), strings.Contains(lower, "no path"), strings.Contains(lower, "no known path"):
		return "no_path"
	case strings.Contains(lower, "no propagation relay selected"):
		return "relay_unset"
	case strings.Contains(lower, "retry budget exhausted"):
		return "retry_budget_exhausted"
	default:
		return ""
	}
}

// MessageCount implements telemetry.IndexGauges.
func (s *Store) MessageCount() int64 {
	var n int64
	s.withLock(func() error {
		return s.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n)
	})
	return n
}

// ThreadCount implements telemetry.IndexGauges.
func (s *Store) ThreadCount() int64 {
	var n int64
	s.withLock(func() error {
		return s.db.QueryRow("SELECT COUNT(*) FROM threads").Scan(&n)
	})
	return n
}

// PeerCount implements telemetry.IndexGauges. There is no standalone peers
// table in this schema (peer data only backfills thread display names), so
// this counts threads with a non-empty display_name. Threads without a peer
// name carry a shortened thread id as their name, so they are counted too.
func (s *Store) PeerCount() int64 {
	var n int64
	s.withLock(func() error {
		return s.db.QueryRow("SELECT COUNT(*) FROM threads WHERE display_name <> ''").Scan(&n)
	})
	return n
}

// PendingAttachmentBytes implements telemetry.IndexGauges: size of
// attachments belonging to messages with a still-pending/queued/sending
// outbound receipt, or no receipt at all.
func (s *Store) PendingAttachmentBytes() int64 {
	var n sql.NullInt64
	s.withLock(func() error {
		return s.db.QueryRow(`
			SELECT COALESCE(SUM(a.size_bytes), 0)
			FROM attachments a
			JOIN messages m ON m.message_id = a.message_id
			WHERE m.direction = 'out' AND (
				m.receipt_status IS NULL
				OR LOWER(m.receipt_status) LIKE '%pending%'
				OR LOWER(m.receipt_status) LIKE '%queue%'
				OR LOWER(m.receipt_status) LIKE '%send%'
			)
		`).Scan(&n)
	})
	return n.Int64
}

func (s *Store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func marshalFields(fields map[string]any) (sql.NullString, error) {
	if len(fields) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
