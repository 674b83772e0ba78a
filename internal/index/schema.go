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

// Package index implements the embedded relational store that mirrors the
// runtime's messages, peers, and events into a queryable local index:
// messages, attachments, threads, sync state, and an FTS5 full-text index.
package index

import "database/sql"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS messages (
	message_id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	source TEXT NOT NULL,
	destination TEXT NOT NULL,
	ts_ms INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	receipt_status TEXT,
	status_reason_code TEXT,
	has_attachments INTEGER NOT NULL DEFAULT 0,
	has_paper INTEGER NOT NULL DEFAULT 0,
	fields_json TEXT,
	updated_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_thread_ts ON messages(thread_id, ts_ms DESC, message_id DESC);
CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts_ms DESC, message_id DESC);

CREATE TABLE IF NOT EXISTS attachments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL REFERENCES messages(message_id) ON DELETE CASCADE,
	ordinal INTEGER NOT NULL DEFAULT 0,
	name TEXT NOT NULL,
	mime TEXT,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	inline_base64 TEXT
);
CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);

CREATE TABLE IF NOT EXISTS threads (
	thread_id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	preview TEXT NOT NULL DEFAULT '',
	last_message_id TEXT,
	last_activity_ms INTEGER NOT NULL DEFAULT 0,
	unread_count INTEGER NOT NULL DEFAULT 0,
	pinned INTEGER NOT NULL DEFAULT 0,
	muted INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sync_state (
	key TEXT PRIMARY KEY,
	value TEXT
);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	title, body, content='messages', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
	INSERT INTO messages_fts(rowid, title, body) VALUES (new.rowid, new.title, new.body);
END;
CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, title, body) VALUES ('delete', old.rowid, old.title, old.body);
END;
CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, title, body) VALUES ('delete', old.rowid, old.title, old.body);
	INSERT INTO messages_fts(rowid, title, body) VALUES (new.rowid, new.title, new.body);
END;
`

// openSchema opens the database file, applies pragmas, and creates the
// schema if it doesn't already exist.
func openSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	db.SetMaxOpenConns(1)
	_, err := db.Exec(schemaSQL)
	return err
}
