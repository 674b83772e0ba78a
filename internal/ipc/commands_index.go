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

package ipc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/coretommy/weft/internal/index"
)

func handleIndexStatus(_ context.Context, s *Server, _ json.RawMessage) (any, error) {
	status, err := s.Index.IndexStatus()
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"ready":         status.Ready,
		"message_count": status.MessageCount,
		"thread_count":  status.ThreadCount,
	}
	if status.LastSyncMs.Valid {
		out["last_sync_ms"] = status.LastSyncMs.Int64
	} else {
		out["last_sync_ms"] = nil
	}
	return out, nil
}

func handleGetRuntimeMetrics(_ context.Context, s *Server, _ json.RawMessage) (any, error) {
	metrics, err := s.Index.RuntimeMetrics()
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"db_size_bytes": metrics.DBSizeBytes,
		"queue_size":    metrics.QueueSize,
		"message_count": metrics.MessageCount,
		"thread_count":  metrics.ThreadCount,
	}
	if metrics.IndexLastSyncMs.Valid {
		out["index_last_sync_ms"] = metrics.IndexLastSyncMs.Int64
	} else {
		out["index_last_sync_ms"] = nil
	}
	return out, nil
}

func handleForceReindex(_ context.Context, s *Server, _ json.RawMessage) (any, error) {
	if err := s.Index.ForceReindex(); err != nil {
		return nil, err
	}
	return map[string]any{"started": true}, nil
}

func handleRebuildThreadSummaries(_ context.Context, s *Server, _ json.RawMessage) (any, error) {
	if err := s.Index.RebuildThreadSummaries(); err != nil {
		return nil, err
	}
	return map[string]any{"rebuilt": true}, nil
}

// queryParams is the common shape of every paginated query command.
type queryParams struct {
	Query        string `json:"query,omitempty"`
	ThreadID     string `json:"thread_id,omitempty"`
	Kind         string `json:"kind,omitempty"`
	Cursor       string `json:"cursor,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	PinnedOnly   bool   `json:"pinned_only,omitempty"`
	IncludeBytes bool   `json:"include_bytes,omitempty"`
}

func decodeQueryParams(params json.RawMessage) (queryParams, error) {
	var in queryParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return in, fmt.Errorf("invalid request: must be a JSON object")
		}
	}
	return in, nil
}

func threadSummaryWire(t index.ThreadSummary) map[string]any {
	out := map[string]any{
		"thread_id":        t.ThreadID,
		"display_name":     t.DisplayName,
		"preview":          t.Preview,
		"last_activity_ms": t.LastActivityMs,
		"unread_count":     t.UnreadCount,
		"pinned":           t.Pinned,
		"muted":            t.Muted,
	}
	if t.LastMessageID.Valid {
		out["last_message_id"] = t.LastMessageID.String
	} else {
		out["last_message_id"] = nil
	}
	return out
}

func messageWire(m index.Message) map[string]any {
	out := map[string]any{
		"message_id":      m.MessageID,
		"thread_id":       m.ThreadID,
		"direction":       m.Direction,
		"source":          m.Source,
		"destination":     m.Destination,
		"ts_ms":           m.TsMs,
		"title":           m.Title,
		"body":            m.Body,
		"has_attachments": m.HasAttachments,
		"has_paper":       m.HasPaper,
		"updated_at_ms":   m.UpdatedAtMs,
	}
	if m.ReceiptStatus.Valid {
		out["receipt_status"] = m.ReceiptStatus.String
	} else {
		out["receipt_status"] = nil
	}
	if m.StatusReasonCode.Valid {
		out["status_reason_code"] = m.StatusReasonCode.String
	} else {
		out["status_reason_code"] = nil
	}
	if m.FieldsJSON.Valid && m.FieldsJSON.String != "" {
		out["fields"] = json.RawMessage(m.FieldsJSON.String)
	} else {
		out["fields"] = nil
	}
	return out
}

func fileItemWire(f index.FileItem) map[string]any {
	out := map[string]any{
		"id":              f.ID,
		"name":            f.Name,
		"kind":            f.Kind,
		"size_label":      f.SizeLabel,
		"size_bytes":      f.SizeBytes,
		"created_at_ms":   f.CreatedAtMs,
		"owner":           f.Owner,
		"mime":            f.Mime,
		"has_inline_data": f.HasInlineData,
	}
	if f.HasInlineData && f.DataBase64 != "" {
		out["data_base64"] = f.DataBase64
	}
	if f.Kind == "Note" {
		out["paper_uri"] = f.PaperURI
		out["paper_title"] = f.PaperTitle
		out["paper_category"] = f.PaperCategory
	}
	return out
}

func mapPointWire(p index.MapPoint) map[string]any {
	return map[string]any{
		"id":        p.ID,
		"label":     p.Label,
		"lat":       p.Lat,
		"lon":       p.Lon,
		"source":    p.Source,
		"when":      p.When,
		"direction": p.Direction,
	}
}

func handleQueryThreads(_ context.Context, s *Server, params json.RawMessage) (any, error) {
	in, err := decodeQueryParams(params)
	if err != nil {
		return nil, err
	}
	page, err := s.Index.QueryThreads(in.Query, in.PinnedOnly, in.Cursor, in.Limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(page.Items))
	for _, t := range page.Items {
		items = append(items, threadSummaryWire(t))
	}
	return map[string]any{"threads": items, "next_cursor": nullIfEmpty(page.NextCursor)}, nil
}

func handleQueryThreadMessages(_ context.Context, s *Server, params json.RawMessage) (any, error) {
	in, err := decodeQueryParams(params)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ThreadID) == "" {
		return nil, fmt.Errorf("thread_id is required")
	}
	page, err := s.Index.QueryThreadMessages(in.ThreadID, in.Query, in.Cursor, in.Limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(page.Items))
	for _, m := range page.Items {
		items = append(items, messageWire(m))
	}
	return map[string]any{"messages": items, "next_cursor": nullIfEmpty(page.NextCursor)}, nil
}

func handleSearchMessages(_ context.Context, s *Server, params json.RawMessage) (any, error) {
	in, err := decodeQueryParams(params)
	if err != nil {
		return nil, err
	}
	page, err := s.Index.SearchMessages(in.Query, in.ThreadID, in.Cursor, in.Limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(page.Items))
	for _, m := range page.Items {
		items = append(items, messageWire(m))
	}
	return map[string]any{"messages": items, "next_cursor": nullIfEmpty(page.NextCursor)}, nil
}

func handleQueryFiles(_ context.Context, s *Server, params json.RawMessage) (any, error) {
	in, err := decodeQueryParams(params)
	if err != nil {
		return nil, err
	}
	page, err := s.Index.QueryFiles(in.Query, in.Kind, in.Cursor, in.Limit, in.IncludeBytes)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(page.Items))
	for _, f := range page.Items {
		items = append(items, fileItemWire(f))
	}
	return map[string]any{"files": items, "next_cursor": nullIfEmpty(page.NextCursor)}, nil
}

func handleQueryMapPoints(_ context.Context, s *Server, params json.RawMessage) (any, error) {
	in, err := decodeQueryParams(params)
	if err != nil {
		return nil, err
	}
	page, err := s.Index.QueryMapPoints(in.Query, in.Cursor, in.Limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(page.Items))
	for _, p := range page.Items {
		items = append(items, mapPointWire(p))
	}
	return map[string]any{"points": items, "next_cursor": nullIfEmpty(page.NextCursor)}, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type attachmentBlobParams struct {
	MessageID string `json:"message_id,omitempty"`
	Name      string `json:"name,omitempty"`
	ID        string `json:"id,omitempty"`
}

func handleGetAttachmentBlob(_ context.Context, s *Server, params json.RawMessage) (any, error) {
	var in attachmentBlobParams
	if len(params) == 0 {
		return nil, fmt.Errorf("invalid request: message_id and name are required")
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("invalid request: must be a JSON object")
	}
	if strings.TrimSpace(in.MessageID) == "" || strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("message_id and name are required")
	}
	data, mime, err := s.Index.GetAttachmentBlobByName(in.MessageID, in.Name)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"mime":        mime,
		"data_base64": base64.StdEncoding.EncodeToString(data),
		"size_bytes":  len(data),
	}, nil
}

func handleGetAttachmentBytes(_ context.Context, s *Server, params json.RawMessage) (any, error) {
	var in attachmentBlobParams
	if len(params) == 0 {
		return nil, fmt.Errorf("invalid request: id is required")
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("invalid request: must be a JSON object")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(in.ID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("id must be a valid attachment id")
	}
	data, mime, name, err := s.Index.GetAttachmentBytes(id)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"name":        name,
		"mime":        mime,
		"data_base64": base64.StdEncoding.EncodeToString(data),
		"size_bytes":  len(data),
	}, nil
}

type attachmentHandleParams struct {
	AttachmentID string `json:"attachment_id,omitempty"`
	HandleID     string `json:"handle_id,omitempty"`
}

func handleOpenAttachmentHandle(_ context.Context, s *Server, params json.RawMessage) (any, error) {
	var in attachmentHandleParams
	if len(params) == 0 {
		return nil, fmt.Errorf("invalid request: attachment_id is required")
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("invalid request: must be a JSON object")
	}
	info, err := s.Attachment.Open(s.Index, in.AttachmentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"handle_id":     info.HandleID,
		"path":          info.Path,
		"mime":          info.Mime,
		"size_bytes":    info.SizeBytes,
		"expires_at_ms": info.ExpiresAtMs,
	}, nil
}

func handleCloseAttachmentHandle(_ context.Context, s *Server, params json.RawMessage) (any, error) {
	var in attachmentHandleParams
	if len(params) == 0 {
		return nil, fmt.Errorf("invalid request: handle_id is required")
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("invalid request: must be a JSON object")
	}
	closed, err := s.Attachment.Close(in.HandleID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"closed": closed}, nil
}
