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
	"fmt"
	"strconv"
	"strings"
)

// Status is the summary returned by the lxmf_index_status IPC command.
type Status struct {
	Ready        bool
	MessageCount int64
	ThreadCount  int64
	LastSyncMs   sql.NullInt64
}

// RuntimeMetrics is the summary returned by get_runtime_metrics.
type RuntimeMetrics struct {
	DBSizeBytes     int64
	QueueSize       int64
	MessageCount    int64
	ThreadCount     int64
	IndexLastSyncMs sql.NullInt64
}

// IndexStatus reports readiness and row counts.
func (s *Store) IndexStatus() (Status, error) {
	var out Status
	err := s.withLock(func() error {
		out.Ready = s.ready.Load()
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&out.MessageCount); err != nil {
			return fmt.Errorf("read message count: %w", err)
		}
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM threads`).Scan(&out.ThreadCount); err != nil {
			return fmt.Errorf("read thread count: %w", err)
		}
		var raw sql.NullString
		err := s.db.QueryRow(`SELECT value FROM sync_state WHERE key = 'last_sync_ms'`).Scan(&raw)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("read last_sync_ms: %w", err)
		}
		if raw.Valid {
			if parsed, convErr := strconv.ParseInt(raw.String, 10, 64); convErr == nil {
				out.LastSyncMs = sql.NullInt64{Int64: parsed, Valid: true}
			}
		}
		return nil
	})
	return out, err
}

// RuntimeMetrics reports the outbound-queue depth and on-disk database size.
func (s *Store) RuntimeMetrics() (RuntimeMetrics, error) {
	var out RuntimeMetrics
	err := s.withLock(func() error {
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&out.MessageCount); err != nil {
			return fmt.Errorf("read runtime metrics message count: %w", err)
		}
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM threads`).Scan(&out.ThreadCount); err != nil {
			return fmt.Errorf("read runtime metrics thread count: %w", err)
		}
		err := s.db.QueryRow(`
			SELECT COUNT(*) FROM messages
			WHERE direction = 'out' AND (
				receipt_status IS NULL
				OR LOWER(receipt_status) LIKE '%pending%'
				OR LOWER(receipt_status) LIKE '%queue%'
				OR LOWER(receipt_status) LIKE '%send%'
			)
		`).Scan(&out.QueueSize)
		if err != nil {
			return fmt.Errorf("read runtime metrics queue size: %w", err)
		}
		var pageCount, pageSize int64
		if err := s.db.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err != nil {
			return fmt.Errorf("read page_count: %w", err)
		}
		if err := s.db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
			return fmt.Errorf("read page_size: %w", err)
		}
		out.DBSizeBytes = pageCount * pageSize
		var raw sql.NullString
		err = s.db.QueryRow(`SELECT value FROM sync_state WHERE key = 'last_sync_ms'`).Scan(&raw)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("read last_sync_ms: %w", err)
		}
		if raw.Valid {
			if parsed, convErr := strconv.ParseInt(raw.String, 10, 64); convErr == nil {
				out.IndexLastSyncMs = sql.NullInt64{Int64: parsed, Valid: true}
			}
		}
		return nil
	})
	return out, err
}

// ForceReindex drops all indexed state and marks the store not-ready; the
// caller is expected to follow up with ReindexFromRuntimePayloads.
func (s *Store) ForceReindex() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready.Store(false)
	_, err := s.db.Exec(`
		DELETE FROM attachments;
		DELETE FROM messages;
		DELETE FROM threads;
		DELETE FROM sync_state;
	`)
	if err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	return nil
}

// RebuildThreadSummaries recomputes the threads table from the current
// messages table without touching message or attachment rows.
func (s *Store) RebuildThreadSummaries() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rebuildThreadsTableTx(s.db)
}

type threadMessageRow struct {
	messageID     string
	threadID      string
	direction     string
	title         string
	body          string
	tsMs          int64
	receiptStatus sql.NullString
	fieldsJSON    sql.NullString
}

func rebuildThreadsTableTx(db *sql.DB) error {
	rows, err := db.Query(`
		SELECT message_id, thread_id, direction, source, destination, ts_ms, title, body, receipt_status, fields_json
		FROM messages
		ORDER BY ts_ms DESC, message_id DESC
	`)
	if err != nil {
		return fmt.Errorf("query rebuild thread rows: %w", err)
	}
	defer rows.Close()

	var all []threadMessageRow
	for rows.Next() {
		var r threadMessageRow
		var source, destination string
		if err := rows.Scan(&r.messageID, &r.threadID, &r.direction, &source, &destination, &r.tsMs, &r.title, &r.body, &r.receiptStatus, &r.fieldsJSON); err != nil {
			return fmt.Errorf("scan rebuild thread row: %w", err)
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	return rebuildThreadsFromRows(db, all, nil)
}

func applyPeerNamesToThreads(db *sql.DB, peers []PeerSummary) error {
	if len(peers) == 0 {
		return nil
	}
	for _, p := range peers {
		peer := strings.TrimSpace(p.Peer)
		name := strings.TrimSpace(p.Name)
		if peer == "" || name == "" {
			continue
		}
		if _, err := db.Exec(`UPDATE threads SET display_name = ? WHERE thread_id = ?`, name, peer); err != nil {
			return fmt.Errorf("apply peer name to thread: %w", err)
		}
	}
	return nil
}

// rebuildThreadsFromRows replaces the entire threads table, preserving any
// existing pinned/muted state and deriving names from peers when available.
func rebuildThreadsFromRows(db *sql.DB, all []threadMessageRow, peers []PeerSummary) error {
	peerNames := make(map[string]string, len(peers))
	for _, p := range peers {
		if p.Peer != "" && p.Name != "" {
			peerNames[p.Peer] = p.Name
		}
	}

	pinnedState := map[string][2]bool{}
	rows, err := db.Query(`SELECT thread_id, pinned, muted FROM threads`)
	if err != nil {
		return fmt.Errorf("query old thread state: %w", err)
	}
	for rows.Next() {
		var threadID string
		var pinned, muted int
		if err := rows.Scan(&threadID, &pinned, &muted); err != nil {
			rows.Close()
			return fmt.Errorf("scan old thread state: %w", err)
		}
		pinnedState[threadID] = [2]bool{pinned == 1, muted == 1}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	type summary struct {
		threadID       string
		displayName    string
		preview        string
		lastMessageID  string
		lastActivityMs int64
		unreadCount    int64
		pinned         bool
		muted          bool
	}
	summaries := map[string]*summary{}
	order := make([]string, 0)

	for _, row := range all {
		sm, ok := summaries[row.threadID]
		if !ok {
			name := peerNames[row.threadID]
			if name == "" {
				name = shortHash(row.threadID, 6)
			}
			state := pinnedState[row.threadID]
			sm = &summary{
				threadID:       row.threadID,
				displayName:    name,
				preview:        previewFromMessageRow(row),
				lastMessageID:  row.messageID,
				lastActivityMs: row.tsMs,
				pinned:         state[0],
				muted:          state[1],
			}
			summaries[row.threadID] = sm
			order = append(order, row.threadID)
		}
		if row.tsMs >= sm.lastActivityMs {
			sm.lastActivityMs = row.tsMs
			sm.lastMessageID = row.messageID
			sm.preview = previewFromMessageRow(row)
		}
		if row.direction != "out" {
			sm.unreadCount++
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start thread rebuild transaction: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM threads`); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear thread table: %w", err)
	}
	for _, threadID := range order {
		sm := summaries[threadID]
		_, err := tx.Exec(`
			INSERT INTO threads (thread_id, display_name, preview, last_message_id, last_activity_ms, unread_count, pinned, muted)
			VALUES (?,?,?,?,?,?,?,?)
		`, sm.threadID, sm.displayName, sm.preview, sm.lastMessageID, sm.lastActivityMs, sm.unreadCount,
			boolToInt(sm.pinned), boolToInt(sm.muted))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert thread summary: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit thread rebuild: %w", err)
	}
	return nil
}

// upsertThreadSummaryForThread recomputes a single thread row from its
// current messages, without touching any other thread.
func upsertThreadSummaryForThread(db *sql.DB, threadID string) error {
	rows, err := db.Query(`
		SELECT message_id, thread_id, direction, source, destination, ts_ms, title, body, receipt_status, fields_json
		FROM messages WHERE thread_id = ?
		ORDER BY ts_ms DESC, message_id DESC
	`, threadID)
	if err != nil {
		return fmt.Errorf("query thread messages for summary: %w", err)
	}
	var rowsForThread []threadMessageRow
	for rows.Next() {
		var r threadMessageRow
		var source, destination string
		if err := rows.Scan(&r.messageID, &r.threadID, &r.direction, &source, &destination, &r.tsMs, &r.title, &r.body, &r.receiptStatus, &r.fieldsJSON); err != nil {
			rows.Close()
			return fmt.Errorf("scan thread message for summary: %w", err)
		}
		rowsForThread = append(rowsForThread, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(rowsForThread) == 0 {
		_, err := db.Exec(`DELETE FROM threads WHERE thread_id = ?`, threadID)
		return err
	}

	var pinned, muted int
	err = db.QueryRow(`SELECT pinned, muted FROM threads WHERE thread_id = ?`, threadID).Scan(&pinned, &muted)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read existing thread state: %w", err)
	}

	displayName := shortHash(threadID, 6)
	err = db.QueryRow(`SELECT display_name FROM threads WHERE thread_id = ?`, threadID).Scan(&displayName)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read existing thread display name: %w", err)
	}

	lastActivityMs := rowsForThread[0].tsMs
	lastMessageID := rowsForThread[0].messageID
	preview := previewFromMessageRow(rowsForThread[0])
	var unread int64
	for _, row := range rowsForThread {
		if row.tsMs >= lastActivityMs {
			lastActivityMs = row.tsMs
			lastMessageID = row.messageID
			preview = previewFromMessageRow(row)
		}
		if row.direction != "out" {
			unread++
		}
	}

	_, err = db.Exec(`
		INSERT INTO threads (thread_id, display_name, preview, last_message_id, last_activity_ms, unread_count, pinned, muted)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(thread_id) DO UPDATE SET
			preview=excluded.preview, last_message_id=excluded.last_message_id,
			last_activity_ms=excluded.last_activity_ms, unread_count=excluded.unread_count
	`, threadID, displayName, preview, lastMessageID, lastActivityMs, unread, pinned, muted)
	if err != nil {
		return fmt.Errorf("upsert thread summary: %w", err)
	}
	return nil
}

func previewFromMessageRow(row threadMessageRow) string {
	body := strings.TrimSpace(row.body)
	if body != "" {
		return body
	}
	title := strings.TrimSpace(row.title)
	if title != "" {
		return title
	}
	if row.fieldsJSON.Valid && strings.Contains(row.fieldsJSON.String, `"paper"`) {
		return "Paper note"
	}
	return "No messages yet"
}

func updateLastSyncState(db *sql.DB, lastSyncMs int64, lastMessageID sql.NullString) error {
	_, err := db.Exec(`
		INSERT INTO sync_state(key, value) VALUES('last_sync_ms', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, strconv.FormatInt(lastSyncMs, 10))
	if err != nil {
		return fmt.Errorf("update sync state: %w", err)
	}
	if lastMessageID.Valid {
		_, err := db.Exec(`
			INSERT INTO sync_state(key, value) VALUES('last_sync_message_id', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, lastMessageID.String)
		if err != nil {
			return fmt.Errorf("update sync message id: %w", err)
		}
	}
	return nil
}

func shortHash(value string, visible int) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) <= visible*2 {
		return trimmed
	}
	return fmt.Sprintf("%s...%s", trimmed[:visible], trimmed[len(trimmed)-visible:])
}
