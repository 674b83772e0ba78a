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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const reindexBatchSize = 500

type parsedMessage struct {
	row         Message
	attachments []Attachment
	fields      map[string]any
}

// ReindexFromRuntimePayloads clears messages/attachments and bulk-inserts
// from list_messages/list_peers style payloads, batching writes in
// transactions of reindexBatchSize rows.
func (s *Store) ReindexFromRuntimePayloads(messagesPayload, peersPayload json.RawMessage) error {
	messages, err := parseMessageList(messagesPayload)
	if err != nil {
		return err
	}
	peers := parsePeerList(peersPayload)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready.Store(false)
	if _, err := s.db.Exec(`DELETE FROM attachments; DELETE FROM messages;`); err != nil {
		return fmt.Errorf("clear tables for reindex: %w", err)
	}
	// A failed batch stops the reindex and leaves the index empty.
	clearOnFailure := func(err error) error {
		s.db.Exec(`DELETE FROM attachments; DELETE FROM messages; DELETE FROM threads;`)
		return err
	}

	var latestTs int64
	var latestID string
	haveLatest := false
	batchCount := 0

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("start reindex batch transaction: %w", err)
	}
	for _, raw := range messages {
		parsed, err := parseMessageRow(raw)
		if err != nil {
			continue
		}
		if err := upsertMessageRowTx(tx, parsed); err != nil {
			tx.Rollback()
			return clearOnFailure(err)
		}
		if !haveLatest || parsed.row.TsMs >= latestTs {
			latestTs = parsed.row.TsMs
			latestID = parsed.row.MessageID
			haveLatest = true
		}
		batchCount++
		if batchCount >= reindexBatchSize {
			if err := tx.Commit(); err != nil {
				return clearOnFailure(fmt.Errorf("commit reindex batch: %w", err))
			}
			tx, err = s.db.Begin()
			if err != nil {
				return clearOnFailure(fmt.Errorf("start reindex batch transaction: %w", err))
			}
			batchCount = 0
		}
	}
	if err := tx.Commit(); err != nil {
		return clearOnFailure(fmt.Errorf("commit reindex transaction: %w", err))
	}

	if err := rebuildThreadsTableTx(s.db); err != nil {
		return err
	}
	if err := applyPeerNamesToThreads(s.db, peers); err != nil {
		return err
	}

	syncTs := currentTimestampMs()
	var syncID sql.NullString
	if haveLatest {
		syncTs = latestTs
		syncID = sql.NullString{String: latestID, Valid: true}
	}
	if err := updateLastSyncState(s.db, syncTs, syncID); err != nil {
		return err
	}
	s.ready.Store(true)
	return nil
}

// IngestEvent applies one runtime event: inbound/outbound upsert a message
// and refresh only the affected thread; receipt updates receipt status and
// its derived reason code; anything else is a silent no-op.
func (s *Store) IngestEvent(event json.RawMessage) error {
	var envelope struct {
		EventType string          `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(event, &envelope); err != nil {
		return nil
	}

	switch envelope.EventType {
	case "receipt":
		return s.applyReceiptEvent(envelope.Payload)
	case "inbound", "outbound":
		return s.ingestMessageEvent(envelope.Payload)
	default:
		return nil
	}
}

func (s *Store) ingestMessageEvent(payload json.RawMessage) error {
	var wrapper struct {
		Message json.RawMessage `json:"message"`
	}
	raw := payload
	if err := json.Unmarshal(payload, &wrapper); err == nil && len(wrapper.Message) > 0 {
		raw = wrapper.Message
	}

	parsed, err := parseMessageRow(raw)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("start event ingest transaction: %w", err)
	}
	if err := upsertMessageRowTx(tx, parsed); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event ingest: %w", err)
	}

	if err := upsertThreadSummaryForThread(s.db, parsed.row.ThreadID); err != nil {
		return err
	}
	if err := updateLastSyncState(s.db, parsed.row.TsMs, sql.NullString{String: parsed.row.MessageID, Valid: true}); err != nil {
		return err
	}
	s.ready.Store(true)
	return nil
}

func (s *Store) applyReceiptEvent(payload json.RawMessage) error {
	var receipt struct {
		MessageID string `json:"message_id"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(payload, &receipt); err != nil {
		return nil
	}
	messageID := strings.TrimSpace(receipt.MessageID)
	if messageID == "" {
		return fmt.Errorf("receipt payload missing message_id")
	}
	status := strings.TrimSpace(receipt.Status)
	reasonCode := deriveStatusReasonCode(status)

	s.mu.Lock()
	defer s.mu.Unlock()

	var threadID sql.NullString
	err := s.db.QueryRow(`SELECT thread_id FROM messages WHERE message_id = ?`, messageID).Scan(&threadID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read thread for receipt update: %w", err)
	}

	var statusArg, reasonArg any
	if status != "" {
		statusArg = status
		if reasonCode != "" {
			reasonArg = reasonCode
		}
	}
	_, err = s.db.Exec(`
		UPDATE messages
		SET receipt_status = COALESCE(?, receipt_status),
		    status_reason_code = COALESCE(?, status_reason_code),
		    updated_at_ms = ?
		WHERE message_id = ?
	`, statusArg, reasonArg, currentTimestampMs(), messageID)
	if err != nil {
		return fmt.Errorf("apply receipt update: %w", err)
	}

	if threadID.Valid {
		if err := upsertThreadSummaryForThread(s.db, threadID.String); err != nil {
			return err
		}
	}
	if err := updateLastSyncState(s.db, currentTimestampMs(), sql.NullString{String: messageID, Valid: true}); err != nil {
		return err
	}
	s.ready.Store(true)
	return nil
}

func parseMessageList(payload json.RawMessage) ([]json.RawMessage, error) {
	var wrapper struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if len(payload) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return nil, fmt.Errorf("parse messages payload: %w", err)
	}
	return wrapper.Messages, nil
}

func parsePeerList(payload json.RawMessage) []PeerSummary {
	var wrapper struct {
		Peers []struct {
			Peer string `json:"peer"`
			Name string `json:"name"`
		} `json:"peers"`
	}
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return nil
	}
	out := make([]PeerSummary, 0, len(wrapper.Peers))
	for _, p := range wrapper.Peers {
		out = append(out, PeerSummary{Peer: p.Peer, Name: p.Name})
	}
	return out
}

func parseMessageRow(raw json.RawMessage) (parsedMessage, error) {
	var in struct {
		ID            string          `json:"id"`
		Source        string          `json:"source"`
		Destination   string          `json:"destination"`
		Direction     string          `json:"direction"`
		Timestamp     json.Number     `json:"timestamp"`
		Title         string          `json:"title"`
		Content       string          `json:"content"`
		Fields        json.RawMessage `json:"fields"`
		ReceiptStatus string          `json:"receipt_status"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return parsedMessage{}, fmt.Errorf("parse message row: %w", err)
	}
	if in.ID == "" || in.Source == "" || in.Destination == "" || in.Direction == "" || in.Timestamp == "" {
		return parsedMessage{}, fmt.Errorf("message row missing required field")
	}
	tsRaw, err := in.Timestamp.Float64()
	if err != nil {
		return parsedMessage{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	tsMs := normalizeTimestamp(tsRaw)

	threadID := in.Destination
	if in.Direction == "in" {
		threadID = in.Source
	}

	var fields map[string]any
	if len(in.Fields) > 0 {
		if err := json.Unmarshal(in.Fields, &fields); err != nil {
			fields = nil
		}
	}

	attachments := extractAttachments(in.ID, fields)
	hasPaper := false
	if fields != nil {
		if paper, ok := fields["paper"].(map[string]any); ok && paper != nil {
			hasPaper = true
		}
	}

	fieldsForStorage, err := marshalFields(fields)
	if err != nil {
		fieldsForStorage = sql.NullString{}
	}

	reasonCode := deriveStatusReasonCode(in.ReceiptStatus)
	var receiptStatus, statusReasonCode sql.NullString
	if in.ReceiptStatus != "" {
		receiptStatus = sql.NullString{String: in.ReceiptStatus, Valid: true}
		statusReasonCode = sql.NullString{String: reasonCode, Valid: reasonCode != ""}
	}

	now := currentTimestampMs()
	return parsedMessage{
		row: Message{
			MessageID:        in.ID,
			ThreadID:         threadID,
			Direction:        in.Direction,
			Source:           in.Source,
			Destination:      in.Destination,
			TsMs:             tsMs,
			Title:            in.Title,
			Body:             in.Content,
			ReceiptStatus:    receiptStatus,
			StatusReasonCode: statusReasonCode,
			HasAttachments:   len(attachments) > 0,
			HasPaper:         hasPaper,
			FieldsJSON:       fieldsForStorage,
			UpdatedAtMs:      now,
		},
		attachments: attachments,
		fields:      fields,
	}, nil
}

func extractAttachments(messageID string, fields map[string]any) []Attachment {
	if fields == nil {
		return nil
	}
	var out []Attachment
	ordinal := 0

	if arr, ok := fields["attachments"].([]any); ok {
		for _, item := range arr {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, attachmentFromRecord(messageID, ordinal, obj))
			ordinal++
		}
	}

	if arr, ok := fields["5"].([]any); ok {
		for _, item := range arr {
			switch v := item.(type) {
			case map[string]any:
				out = append(out, attachmentFromRecord(messageID, ordinal, v))
				ordinal++
			case []any:
				if len(v) == 2 {
					name := anyToString(v[0])
					data := anyToBytes(v[1])
					out = append(out, Attachment{
						MessageID:    messageID,
						Ordinal:      ordinal,
						Name:         name,
						SizeBytes:    int64(len(data)),
						InlineBase64: base64.StdEncoding.EncodeToString(data),
					})
					ordinal++
				}
			}
		}
	}

	return out
}

func attachmentFromRecord(messageID string, ordinal int, obj map[string]any) Attachment {
	name := firstString(obj, "name", "filename")
	mime := firstString(obj, "mime")
	inline := firstString(obj, "inline_base64")
	if inline == "" {
		if data, ok := obj["data"].([]any); ok {
			inline = base64.StdEncoding.EncodeToString(anyToBytes(data))
		}
	}
	size := firstInt(obj, "size_bytes", "size")
	if size == 0 && inline != "" {
		trimmed := strings.TrimRight(inline, "=")
		size = int64(math.Ceil(float64(len(trimmed)) * 3 / 4))
	}
	return Attachment{
		MessageID:    messageID,
		Ordinal:      ordinal,
		Name:         name,
		Mime:         mime,
		SizeBytes:    size,
		InlineBase64: inline,
	}
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstInt(obj map[string]any, keys ...string) int64 {
	for _, k := range keys {
		if v, ok := obj[k].(float64); ok {
			return int64(v)
		}
	}
	return 0
}

func anyToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func anyToBytes(v any) []byte {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]byte, 0, len(arr))
	for _, item := range arr {
		if n, ok := item.(float64); ok {
			out = append(out, byte(int(n)))
		}
	}
	return out
}

func upsertMessageRowTx(tx *sql.Tx, parsed parsedMessage) error {
	m := parsed.row
	_, err := tx.Exec(`
		INSERT INTO messages (
			message_id, thread_id, direction, source, destination, ts_ms,
			title, body, receipt_status, status_reason_code, has_attachments,
			has_paper, fields_json, updated_at_ms
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(message_id) DO UPDATE SET
			thread_id=excluded.thread_id, direction=excluded.direction,
			source=excluded.source, destination=excluded.destination,
			ts_ms=excluded.ts_ms, title=excluded.title, body=excluded.body,
			receipt_status=excluded.receipt_status,
			status_reason_code=excluded.status_reason_code,
			has_attachments=excluded.has_attachments,
			has_paper=excluded.has_paper, fields_json=excluded.fields_json,
			updated_at_ms=excluded.updated_at_ms
	`, m.MessageID, m.ThreadID, m.Direction, m.Source, m.Destination, m.TsMs,
		m.Title, m.Body, nullableString(m.ReceiptStatus), nullableString(m.StatusReasonCode),
		boolToInt(m.HasAttachments), boolToInt(m.HasPaper), nullableString(m.FieldsJSON), m.UpdatedAtMs)
	if err != nil {
		return fmt.Errorf("upsert message row: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM attachments WHERE message_id = ?`, m.MessageID); err != nil {
		return fmt.Errorf("clear prior attachments: %w", err)
	}
	for _, a := range parsed.attachments {
		_, err := tx.Exec(`
			INSERT INTO attachments (message_id, ordinal, name, mime, size_bytes, inline_base64)
			VALUES (?,?,?,?,?,?)
		`, a.MessageID, a.Ordinal, a.Name, nullIfEmpty(a.Mime), a.SizeBytes, nullIfEmpty(a.InlineBase64))
		if err != nil {
			return fmt.Errorf("insert attachment row: %w", err)
		}
	}
	return nil
}

func nullableString(v sql.NullString) any {
	if !v.Valid {
		return nil
	}
	return v.String
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
