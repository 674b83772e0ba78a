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
	"strconv"
	"strings"
)

const (
	defaultLimit = 100
	maxLimit     = 1000

	mapPointPageSize = 320
	mapPointScanCap  = 4000
)

// Page is a generic cursor-paginated result envelope.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

type threadCursorKey struct {
	Pinned         bool  `json:"p"`
	LastActivityMs int64 `json:"a"`
	ThreadID       string `json:"t"`
}

type messageCursorKey struct {
	TsMs      int64  `json:"t"`
	MessageID string `json:"m"`
}

func encodeCursor(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeThreadCursor(cursor string) *threadCursorKey {
	if cursor == "" {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil
	}
	var key threadCursorKey
	if err := json.Unmarshal(b, &key); err != nil {
		return nil
	}
	return &key
}

func decodeMessageCursor(cursor string) *messageCursorKey {
	if cursor == "" {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil
	}
	var key messageCursorKey
	if err := json.Unmarshal(b, &key); err != nil {
		return nil
	}
	return &key
}

func parseOffsetCursor(cursor string) int {
	n, err := strconv.Atoi(strings.TrimSpace(cursor))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// QueryThreads lists threads ordered pinned-first, most-recently-active
// first, keyset-paginated on (pinned, last_activity_ms, thread_id).
func (s *Store) QueryThreads(queryText string, pinnedOnly bool, cursor string, limit int) (Page[ThreadSummary], error) {
	limit = normalizeLimit(limit)
	key := decodeThreadCursor(cursor)

	conds := []string{}
	args := []any{}
	if pinnedOnly {
		conds = append(conds, "pinned = 1")
	}
	if like := likeFilter(queryText); like != "" {
		conds = append(conds, "(LOWER(display_name) LIKE ? OR LOWER(thread_id) LIKE ? OR LOWER(preview) LIKE ?)")
		args = append(args, like, like, like)
	}
	if key != nil {
		p := boolToInt(key.Pinned)
		conds = append(conds, "(pinned < ? OR (pinned = ? AND last_activity_ms < ?) OR (pinned = ? AND last_activity_ms = ? AND thread_id < ?))")
		args = append(args, p, p, key.LastActivityMs, p, key.LastActivityMs, key.ThreadID)
	}

	query := "SELECT thread_id, display_name, preview, unread_count, pinned, muted, last_message_id, last_activity_ms FROM threads"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY pinned DESC, last_activity_ms DESC, thread_id DESC LIMIT ?"
	args = append(args, limit+1)

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return Page[ThreadSummary]{}, fmt.Errorf("run thread query: %w", err)
	}
	defer rows.Close()

	var items []ThreadSummary
	for rows.Next() {
		var t ThreadSummary
		var pinnedInt, mutedInt int
		if err := rows.Scan(&t.ThreadID, &t.DisplayName, &t.Preview, &t.UnreadCount, &pinnedInt, &mutedInt, &t.LastMessageID, &t.LastActivityMs); err != nil {
			return Page[ThreadSummary]{}, fmt.Errorf("scan thread row: %w", err)
		}
		t.Pinned = pinnedInt == 1
		t.Muted = mutedInt == 1
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return Page[ThreadSummary]{}, err
	}

	var next string
	if len(items) > limit {
		last := items[limit-1]
		next = encodeCursor(threadCursorKey{Pinned: last.Pinned, LastActivityMs: last.LastActivityMs, ThreadID: last.ThreadID})
		items = items[:limit]
	}
	return Page[ThreadSummary]{Items: items, NextCursor: next}, nil
}

// QueryThreadMessages lists one thread's messages newest-first, keyset
// paginated on (ts_ms, message_id), with an optional case-insensitive
// substring filter over title/body/receipt_status.
func (s *Store) QueryThreadMessages(threadID, queryText, cursor string, limit int) (Page[Message], error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return Page[Message]{}, fmt.Errorf("thread_id is required")
	}
	limit = normalizeLimit(limit)
	key := decodeMessageCursor(cursor)

	conds := []string{"thread_id = ?"}
	args := []any{threadID}
	if like := likeFilter(queryText); like != "" {
		conds = append(conds, "(LOWER(title) LIKE ? OR LOWER(body) LIKE ? OR LOWER(COALESCE(receipt_status, '')) LIKE ?)")
		args = append(args, like, like, like)
	}
	if key != nil {
		conds = append(conds, "(ts_ms < ? OR (ts_ms = ? AND message_id < ?))")
		args = append(args, key.TsMs, key.TsMs, key.MessageID)
	}

	query := `
		SELECT message_id, thread_id, direction, source, destination, ts_ms, title, body,
		       receipt_status, status_reason_code, has_attachments, has_paper, fields_json, updated_at_ms
		FROM messages WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY ts_ms DESC, message_id DESC LIMIT ?`
	args = append(args, limit+1)

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return Page[Message]{}, fmt.Errorf("run thread message query: %w", err)
	}
	defer rows.Close()

	items, err := scanMessages(rows)
	if err != nil {
		return Page[Message]{}, err
	}

	var next string
	if len(items) > limit {
		last := items[limit-1]
		next = encodeCursor(messageCursorKey{TsMs: last.TsMs, MessageID: last.MessageID})
		items = items[:limit]
	}
	return Page[Message]{Items: items, NextCursor: next}, nil
}

// SearchMessages runs an FTS5 prefix-expanded match, falling back to a
// plain substring LIKE scan when FTS yields nothing (e.g. the query has no
// alphanumeric terms). Offset-paginated: ranking stability under writes is
// not required for ad-hoc search.
func (s *Store) SearchMessages(queryText, threadID, cursor string, limit int) (Page[Message], error) {
	trimmed := strings.TrimSpace(queryText)
	if trimmed == "" {
		return Page[Message]{}, fmt.Errorf("query is required")
	}
	limit = normalizeLimit(limit)
	offset := parseOffsetCursor(cursor)

	threadFilter := strings.TrimSpace(threadID)
	var threadArg any
	if threadFilter != "" {
		threadArg = threadFilter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var items []Message
	if ftsQuery := buildFTSQuery(trimmed); ftsQuery != "" {
		rows, err := s.db.Query(`
			SELECT m.message_id, m.thread_id, m.direction, m.source, m.destination, m.ts_ms, m.title, m.body,
			       m.receipt_status, m.status_reason_code, m.has_attachments, m.has_paper, m.fields_json, m.updated_at_ms
			FROM messages_fts f
			JOIN messages m ON m.rowid = f.rowid
			WHERE f.messages_fts MATCH ? AND (? IS NULL OR m.thread_id = ?)
			ORDER BY m.ts_ms DESC, m.message_id DESC
			LIMIT ? OFFSET ?
		`, ftsQuery, threadArg, threadArg, limit+1, offset)
		if err != nil {
			return Page[Message]{}, fmt.Errorf("run fts search: %w", err)
		}
		items, err = scanMessages(rows)
		rows.Close()
		if err != nil {
			return Page[Message]{}, err
		}
	}

	if len(items) == 0 {
		like := "%" + strings.ToLower(trimmed) + "%"
		rows, err := s.db.Query(`
			SELECT message_id, thread_id, direction, source, destination, ts_ms, title, body,
			       receipt_status, status_reason_code, has_attachments, has_paper, fields_json, updated_at_ms
			FROM messages
			WHERE (LOWER(title) LIKE ? OR LOWER(body) LIKE ?) AND (? IS NULL OR thread_id = ?)
			ORDER BY ts_ms DESC, message_id DESC
			LIMIT ? OFFSET ?
		`, like, like, threadArg, threadArg, limit+1, offset)
		if err != nil {
			return Page[Message]{}, fmt.Errorf("run fallback search: %w", err)
		}
		items, err = scanMessages(rows)
		rows.Close()
		if err != nil {
			return Page[Message]{}, err
		}
	}

	var next string
	if len(items) > limit {
		next = strconv.Itoa(offset + limit)
		items = items[:limit]
	}
	return Page[Message]{Items: items, NextCursor: next}, nil
}

// buildFTSQuery expands whitespace-separated terms into an FTS5 prefix
// query, stripping anything that isn't alphanumeric/underscore/hyphen.
func buildFTSQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, term := range fields {
		var b strings.Builder
		for _, r := range term {
			if r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			terms = append(terms, b.String()+"*")
		}
	}
	if len(terms) == 0 {
		return ""
	}
	return strings.Join(terms, " AND ")
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var items []Message
	for rows.Next() {
		var m Message
		var hasAttachments, hasPaper int
		if err := rows.Scan(&m.MessageID, &m.ThreadID, &m.Direction, &m.Source, &m.Destination, &m.TsMs,
			&m.Title, &m.Body, &m.ReceiptStatus, &m.StatusReasonCode, &hasAttachments, &hasPaper,
			&m.FieldsJSON, &m.UpdatedAtMs); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.HasAttachments = hasAttachments == 1
		m.HasPaper = hasPaper == 1
		items = append(items, m)
	}
	return items, rows.Err()
}

func likeFilter(queryText string) string {
	trimmed := strings.ToLower(strings.TrimSpace(queryText))
	if trimmed == "" {
		return ""
	}
	return "%" + trimmed + "%"
}

// FileItem is one entry in a query_files result: either a real attachment
// or a synthesized "paper note" pseudo-file derived from fields.paper.
type FileItem struct {
	ID            string
	Name          string
	Kind          string
	SizeLabel     string
	SizeBytes     int64
	CreatedAtMs   int64
	Owner         string
	Mime          string
	HasInlineData bool
	DataBase64    string
	PaperURI      string
	PaperTitle    string
	PaperCategory string
}

// QueryFiles lists attachments (optionally including inline bytes) plus
// paper-note pseudo-files as one UNION ALL sorted by
// (created_at_ms DESC, sort_id DESC), where file rows sort as
// "a:<20-digit id>" and paper rows as "p:<message_id>". Offset-paginated
// and filterable by kind and a case-insensitive substring query.
func (s *Store) QueryFiles(queryText, kind, cursor string, limit int, includeBytes bool) (Page[FileItem], error) {
	limit = normalizeLimit(limit)
	offset := parseOffsetCursor(cursor)
	like := likeFilter(queryText)
	var likeArg any
	if like != "" {
		likeArg = like
	}
	var kindArg any
	if k := strings.ToLower(strings.TrimSpace(kind)); k != "" {
		kindArg = k
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT item_id, sort_id, name, kind, mime, size_bytes, data_b64, has_inline,
		       owner, created_at_ms, paper_uri, paper_title, paper_category
		FROM (
			SELECT 'a:' || printf('%020d', a.id) AS sort_id,
			       CAST(a.id AS TEXT) AS item_id,
			       a.name AS name,
			       CASE
			           WHEN LOWER(COALESCE(a.mime, '')) LIKE 'image/%' THEN 'Image'
			           WHEN LOWER(COALESCE(a.mime, '')) LIKE 'audio/%' THEN 'Audio'
			           WHEN LOWER(COALESCE(a.mime, '')) LIKE '%zip%'
			             OR LOWER(COALESCE(a.mime, '')) LIKE '%tar%' THEN 'Archive'
			           ELSE 'Document'
			       END AS kind,
			       a.mime AS mime, a.size_bytes AS size_bytes,
			       CASE WHEN ? = 1 THEN a.inline_base64 ELSE NULL END AS data_b64,
			       CASE WHEN a.inline_base64 IS NULL OR a.inline_base64 = '' THEN 0 ELSE 1 END AS has_inline,
			       m.source AS owner, m.ts_ms AS created_at_ms,
			       NULL AS paper_uri, NULL AS paper_title, NULL AS paper_category
			FROM attachments a
			JOIN messages m ON m.message_id = a.message_id
			UNION ALL
			SELECT 'p:' || m.message_id,
			       m.message_id || ':paper',
			       COALESCE(
			           NULLIF(TRIM(COALESCE(json_extract(m.fields_json, '$.paper.title'), '')), ''),
			           NULLIF(TRIM(COALESCE(json_extract(m.fields_json, '$.paper.uri'), '')), ''),
			           'Note'),
			       'Note', NULL, 0, NULL, 0,
			       m.source, m.ts_ms,
			       json_extract(m.fields_json, '$.paper.uri'),
			       json_extract(m.fields_json, '$.paper.title'),
			       json_extract(m.fields_json, '$.paper.category')
			FROM messages m
			WHERE m.has_paper = 1
			  AND (TRIM(COALESCE(json_extract(m.fields_json, '$.paper.title'), '')) <> ''
			    OR TRIM(COALESCE(json_extract(m.fields_json, '$.paper.uri'), '')) <> '')
		)
		WHERE (? IS NULL OR LOWER(kind) = ?)
		  AND (? IS NULL OR LOWER(name) LIKE ? OR LOWER(COALESCE(mime, '')) LIKE ? OR LOWER(owner) LIKE ?)
		ORDER BY created_at_ms DESC, sort_id DESC
		LIMIT ? OFFSET ?
	`, boolToInt(includeBytes), kindArg, kindArg, likeArg, like, like, like, limit+1, offset)
	if err != nil {
		return Page[FileItem]{}, fmt.Errorf("run file query: %w", err)
	}
	defer rows.Close()

	var items []FileItem
	for rows.Next() {
		var itemID, sortID, name, itemKind string
		var mime, data, paperURI, paperTitle, paperCategory sql.NullString
		var sizeBytes, tsMs int64
		var hasInline int
		var owner string
		if err := rows.Scan(&itemID, &sortID, &name, &itemKind, &mime, &sizeBytes, &data, &hasInline,
			&owner, &tsMs, &paperURI, &paperTitle, &paperCategory); err != nil {
			return Page[FileItem]{}, fmt.Errorf("scan file row: %w", err)
		}
		item := FileItem{
			ID: itemID, Name: name, Kind: itemKind,
			SizeLabel: sizeLabel(sizeBytes), SizeBytes: sizeBytes, CreatedAtMs: tsMs,
			Owner: shortHash(owner, 6), Mime: mime.String,
			HasInlineData: hasInline == 1, DataBase64: data.String,
			PaperURI: paperURI.String, PaperTitle: paperTitle.String, PaperCategory: paperCategory.String,
		}
		if item.Kind == "Note" {
			item.SizeLabel = "—"
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return Page[FileItem]{}, err
	}

	var next string
	if len(items) > limit {
		next = strconv.Itoa(offset + limit)
		items = items[:limit]
	}
	return Page[FileItem]{Items: items, NextCursor: next}, nil
}

func sizeLabel(sizeBytes int64) string {
	switch {
	case sizeBytes <= 0:
		return "—"
	case sizeBytes < 1024:
		return fmt.Sprintf("%d B", sizeBytes)
	case sizeBytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(sizeBytes)/1024.0)
	default:
		return fmt.Sprintf("%.1f MB", float64(sizeBytes)/(1024.0*1024.0))
	}
}

// MapPoint is one geotagged location extracted from a message.
type MapPoint struct {
	ID        string
	Label     string
	Lat       float64
	Lon       float64
	Source    string
	When      string
	Direction string
}

// QueryMapPoints scans messages in pages of mapPointPageSize rows, up to a
// hard cap of mapPointScanCap rows, extracting up to two points per message.
// next_cursor presence means "more available within this scan window", not
// an exhaustive guarantee: the cap can truncate a sparse, large history.
func (s *Store) QueryMapPoints(queryText, cursor string, limit int) (Page[MapPoint], error) {
	limit = normalizeLimit(limit)
	offset := parseOffsetCursor(cursor)
	query := strings.ToLower(strings.TrimSpace(queryText))

	s.mu.Lock()
	defer s.mu.Unlock()

	var points []MapPoint
	scanned := 0
	pageOffset := offset
	for scanned < mapPointScanCap && len(points) <= limit {
		rows, err := s.db.Query(`
			SELECT message_id, source, destination, direction, title, body, ts_ms, fields_json
			FROM messages ORDER BY ts_ms DESC, message_id DESC
			LIMIT ? OFFSET ?
		`, mapPointPageSize, pageOffset)
		if err != nil {
			return Page[MapPoint]{}, fmt.Errorf("run map query: %w", err)
		}

		rowCount := 0
		for rows.Next() {
			rowCount++
			scanned++
			var messageID, source, destination, direction, title, body string
			var tsMs int64
			var fieldsJSON sql.NullString
			if err := rows.Scan(&messageID, &source, &destination, &direction, &title, &body, &tsMs, &fieldsJSON); err != nil {
				rows.Close()
				return Page[MapPoint]{}, fmt.Errorf("scan map row: %w", err)
			}
			var fields map[string]any
			if fieldsJSON.Valid {
				json.Unmarshal([]byte(fieldsJSON.String), &fields)
			}
			for _, p := range extractMapPoints(messageID, source, destination, direction, title, body, tsMs, fields) {
				if query != "" {
					haystack := strings.ToLower(fmt.Sprintf("%s %s %s %v %v", p.Label, p.Source, p.When, p.Lat, p.Lon))
					if !strings.Contains(haystack, query) {
						continue
					}
				}
				points = append(points, p)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return Page[MapPoint]{}, err
		}
		pageOffset += mapPointPageSize
		if rowCount < mapPointPageSize {
			break
		}
	}

	sortMapPointsDescByID(points)

	var next string
	if len(points) > limit {
		next = strconv.Itoa(pageOffset)
		points = points[:limit]
	}
	return Page[MapPoint]{Items: points, NextCursor: next}, nil
}

func sortMapPointsDescByID(points []MapPoint) {
	for i := 1; i < len(points); i++ {
		for j := i; j > 0 && points[j-1].ID < points[j].ID; j-- {
			points[j-1], points[j] = points[j], points[j-1]
		}
	}
}

func extractMapPoints(messageID, source, destination, direction, title, body string, tsMs int64, fields map[string]any) []MapPoint {
	var out []MapPoint
	who := source
	if direction == "out" {
		who = destination
	}
	dirLabel := "in"
	if direction == "out" {
		dirLabel = "out"
	}
	label := strings.TrimSpace(title)
	if label == "" {
		if line := firstLine(body); line != "" {
			label = line
		} else {
			label = "Location point"
		}
	}

	build := func(lat, lon float64) MapPoint {
		return MapPoint{
			ID:        fmt.Sprintf("%s:%d:%v:%v", messageID, tsMs, lat, lon),
			Label:     label,
			Lat:       lat,
			Lon:       lon,
			Source:    shortHash(who, 8),
			When:      formatTimestamp(tsMs),
			Direction: dirLabel,
		}
	}

	if lat, lon, ok := extractLocationFromFields(fields); ok {
		out = append(out, build(lat, lon))
	}
	if lat, lon, ok := extractGeoURI(body); ok {
		out = append(out, build(lat, lon))
	} else if lat, lon, ok := extractGeoURI(title); ok {
		out = append(out, build(lat, lon))
	}
	return out
}

func extractLocationFromFields(fields map[string]any) (float64, float64, bool) {
	if fields == nil {
		return 0, 0, false
	}
	if loc, ok := fields["location"].(map[string]any); ok {
		if lat, lon, ok := latLonFromObject(loc); ok {
			return lat, lon, true
		}
	}
	if telemetry, ok := fields["2"].(map[string]any); ok {
		if loc, ok := telemetry["location"].(map[string]any); ok {
			if lat, lon, ok := latLonFromObject(loc); ok {
				return lat, lon, true
			}
		}
		if lat, lon, ok := latLonFromObject(telemetry); ok {
			return lat, lon, true
		}
	}
	return 0, 0, false
}

func latLonFromObject(obj map[string]any) (float64, float64, bool) {
	lat, latOK := firstFloat(obj, "lat", "latitude")
	lon, lonOK := firstFloat(obj, "lon", "lng", "longitude")
	if !latOK || !lonOK || !isValidCoordinate(lat, lon) {
		return 0, 0, false
	}
	return lat, lon, true
}

func firstFloat(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := obj[k].(float64); ok {
			return v, true
		}
	}
	return 0, false
}

func extractGeoURI(value string) (float64, float64, bool) {
	lower := strings.ToLower(value)
	idx := strings.Index(lower, "geo:")
	if idx == -1 {
		return 0, 0, false
	}
	suffix := value[idx+4:]
	parts := strings.FieldsFunc(suffix, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
	if len(parts) < 2 {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	if !isValidCoordinate(lat, lon) {
		return 0, 0, false
	}
	return lat, lon, true
}

func isValidCoordinate(lat, lon float64) bool {
	return !math.IsNaN(lat) && !math.IsNaN(lon) && !math.IsInf(lat, 0) && !math.IsInf(lon, 0) &&
		lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func firstLine(body string) string {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ""
	}
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		return strings.TrimSpace(trimmed[:idx])
	}
	return trimmed
}

func formatTimestamp(tsMs int64) string {
	if tsMs > 0 {
		return strconv.FormatInt(tsMs, 10)
	}
	return "unknown"
}

// GetAttachmentBlobByName returns the decoded bytes and mime for the
// attachment named name on message messageID ("payload unavailable" when
// the row has no inline data).
func (s *Store) GetAttachmentBlobByName(messageID, name string) ([]byte, string, error) {
	var mime, inline sql.NullString
	err := s.withLock(func() error {
		return s.db.QueryRow(`
			SELECT mime, inline_base64 FROM attachments
			WHERE message_id = ? AND name = ?
			ORDER BY ordinal ASC LIMIT 1
		`, messageID, name).Scan(&mime, &inline)
	})
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("attachment %q on message %q not found", name, messageID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read attachment blob: %w", err)
	}
	if !inline.Valid || inline.String == "" {
		return nil, mime.String, fmt.Errorf("payload unavailable for attachment %q", name)
	}
	data, err := base64.StdEncoding.DecodeString(inline.String)
	if err != nil {
		return nil, "", fmt.Errorf("decode attachment blob: %w", err)
	}
	return data, mime.String, nil
}

// GetAttachmentBytes returns the decoded bytes, mime, and name for one
// attachment row, by id.
func (s *Store) GetAttachmentBytes(id int64) ([]byte, string, string, error) {
	var name string
	var mime, inline sql.NullString
	err := s.withLock(func() error {
		return s.db.QueryRow(`SELECT name, mime, inline_base64 FROM attachments WHERE id = ?`, id).Scan(&name, &mime, &inline)
	})
	if err == sql.ErrNoRows {
		return nil, "", "", fmt.Errorf("attachment %d not found", id)
	}
	if err != nil {
		return nil, "", "", fmt.Errorf("read attachment: %w", err)
	}
	if !inline.Valid || inline.String == "" {
		return nil, mime.String, name, fmt.Errorf("attachment %d has no inline data", id)
	}
	data, err := base64.StdEncoding.DecodeString(inline.String)
	if err != nil {
		return nil, "", "", fmt.Errorf("decode attachment bytes: %w", err)
	}
	return data, mime.String, name, nil
}

// SanitizeFieldsForClient mirrors a message's attachment list into
// fields["attachments"] and strips the raw wire-format key "5" before the
// fields blob is handed to the UI.
func (s *Store) SanitizeFieldsForClient(messageID string, fields map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range fields {
		out[k] = v
	}
	delete(out, "5")

	s.mu.Lock()
	rows, err := s.db.Query(`SELECT name, mime, size_bytes FROM attachments WHERE message_id = ? ORDER BY ordinal ASC`, messageID)
	s.mu.Unlock()
	if err != nil {
		return out
	}
	defer rows.Close()

	var attachments []map[string]any
	for rows.Next() {
		var name string
		var mime sql.NullString
		var size int64
		if err := rows.Scan(&name, &mime, &size); err != nil {
			continue
		}
		attachments = append(attachments, map[string]any{"name": name, "mime": mime.String, "size_bytes": size})
	}
	if len(attachments) > 0 {
		out["attachments"] = attachments
	}
	return out
}
