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

// Package attachment manages a disk-backed cache of materialized attachment
// blobs: each open request writes the decoded bytes to a cache file and
// hands the UI a short-lived handle, evicted by TTL and by an LRU bound on
// entry count and total bytes.
package attachment

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	handleTTL      = 10 * time.Minute
	maxOpenHandles = 24
	maxTotalBytes  = 80 * 1024 * 1024
)

// BlobSource resolves an attachment id to its bytes and mime type.
type BlobSource interface {
	GetAttachmentBytes(id int64) (data []byte, mime string, name string, err error)
}

// Info is what open_attachment_handle returns to the UI.
type Info struct {
	HandleID    string
	Path        string
	Mime        string
	SizeBytes   int64
	ExpiresAtMs int64
}

type entry struct {
	attachmentID     string
	handleID         string
	path             string
	mime             string
	sizeBytes        int64
	createdAtMs      int64
	lastAccessedAtMs int64
	expiresAtMs      int64
}

// Manager is the Attachment Handle Manager: opens and evicts cache entries
// backing the UI's inline attachment previews.
type Manager struct {
	mu           sync.Mutex
	cacheDir     string
	entries      map[string]*entry
	byAttachment map[string]string
	totalBytes   int64
	idCounter    atomic.Uint64
	now          func() time.Time
}

// New creates a Manager rooted at cacheDir. The directory is created lazily
// on first Open call.
func New(cacheDir string) *Manager {
	return &Manager{
		cacheDir:     cacheDir,
		entries:      make(map[string]*entry),
		byAttachment: make(map[string]string),
		now:          time.Now,
	}
}

// Configure creates the cache directory and removes any file left over from
// a prior run that has aged past the handle TTL.
func (m *Manager) Configure() error {
	if err := os.MkdirAll(m.cacheDir, 0o755); err != nil {
		return fmt.Errorf("create attachment handle cache dir: %w", err)
	}
	m.cleanupStaleFiles()
	return nil
}

// Open materializes attachment_id to a cache file and returns a handle,
// reusing an existing live handle for the same attachment if one exists.
func (m *Manager) Open(source BlobSource, attachmentID string) (Info, error) {
	if attachmentID == "" {
		return Info{}, fmt.Errorf("attachment_id is required")
	}
	nowMs := m.nowMs()

	if cached, ok := m.tryGetCached(attachmentID, nowMs); ok {
		return cached, nil
	}

	id, err := strconv.ParseInt(attachmentID, 10, 64)
	if err != nil {
		return Info{}, fmt.Errorf("invalid attachment_id %q: %w", attachmentID, err)
	}
	data, mime, _, err := source.GetAttachmentBytes(id)
	if err != nil {
		return Info{}, err
	}
	if len(data) == 0 {
		return Info{}, fmt.Errorf("attachment payload unavailable")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.cacheDir, 0o755); err != nil {
		return Info{}, fmt.Errorf("create attachment handle cache dir: %w", err)
	}
	m.cleanupExpiredLocked(nowMs)

	handleID := fmt.Sprintf("ah-%d-%d", nowMs, m.idCounter.Add(1))
	ext := extensionFromMime(mime)
	filename := handleID
	if ext != "" {
		filename = handleID + "." + ext
	}
	path := filepath.Join(m.cacheDir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Info{}, fmt.Errorf("write attachment handle file: %w", err)
	}

	e := &entry{
		attachmentID:     attachmentID,
		handleID:         handleID,
		path:             path,
		mime:             mime,
		sizeBytes:        int64(len(data)),
		createdAtMs:      nowMs,
		lastAccessedAtMs: nowMs,
		expiresAtMs:      nowMs + handleTTL.Milliseconds(),
	}
	m.totalBytes += e.sizeBytes
	m.byAttachment[attachmentID] = handleID
	m.entries[handleID] = e

	m.enforceLimitsLocked()

	return Info{HandleID: e.handleID, Path: e.path, Mime: e.mime, SizeBytes: e.sizeBytes, ExpiresAtMs: e.expiresAtMs}, nil
}

// Close releases one handle, removing its cache file. Reports false if the
// handle was already gone.
func (m *Manager) Close(handleID string) (bool, error) {
	if handleID == "" {
		return false, fmt.Errorf("handle_id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[handleID]
	if !ok {
		return false, nil
	}
	m.removeEntryLocked(e)
	return true, nil
}

// ActiveHandleCount reports the number of live entries.
func (m *Manager) ActiveHandleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// CleanupExpired drops every entry whose TTL has passed or whose file is
// gone from disk.
func (m *Manager) CleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupExpiredLocked(m.nowMs())
}

func (m *Manager) tryGetCached(attachmentID string, nowMs int64) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupExpiredLocked(nowMs)

	handleID, ok := m.byAttachment[attachmentID]
	if !ok {
		return Info{}, false
	}
	e, ok := m.entries[handleID]
	if !ok {
		delete(m.byAttachment, attachmentID)
		return Info{}, false
	}
	if _, err := os.Stat(e.path); err != nil {
		delete(m.entries, handleID)
		delete(m.byAttachment, attachmentID)
		return Info{}, false
	}
	e.lastAccessedAtMs = nowMs
	e.expiresAtMs = nowMs + handleTTL.Milliseconds()
	return Info{HandleID: e.handleID, Path: e.path, Mime: e.mime, SizeBytes: e.sizeBytes, ExpiresAtMs: e.expiresAtMs}, true
}

func (m *Manager) cleanupExpiredLocked(nowMs int64) {
	var expired []string
	for handleID, e := range m.entries {
		if e.expiresAtMs <= nowMs {
			expired = append(expired, handleID)
			continue
		}
		if _, err := os.Stat(e.path); err != nil {
			expired = append(expired, handleID)
		}
	}
	for _, handleID := range expired {
		if e, ok := m.entries[handleID]; ok {
			m.removeEntryLocked(e)
		}
	}
}

// enforceLimitsLocked evicts least-recently-used entries, breaking ties by
// creation time then handle id, until the manager is back within bounds.
func (m *Manager) enforceLimitsLocked() {
	if len(m.entries) <= maxOpenHandles && m.totalBytes <= maxTotalBytes {
		return
	}

	candidates := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.lastAccessedAtMs != b.lastAccessedAtMs {
			return a.lastAccessedAtMs < b.lastAccessedAtMs
		}
		if a.createdAtMs != b.createdAtMs {
			return a.createdAtMs < b.createdAtMs
		}
		return a.handleID < b.handleID
	})

	for _, e := range candidates {
		if len(m.entries) <= maxOpenHandles && m.totalBytes <= maxTotalBytes {
			break
		}
		m.removeEntryLocked(e)
	}
}

func (m *Manager) removeEntryLocked(e *entry) {
	delete(m.entries, e.handleID)
	delete(m.byAttachment, e.attachmentID)
	m.totalBytes -= e.sizeBytes
	os.Remove(e.path)
}

func (m *Manager) cleanupStaleFiles() {
	entries, err := os.ReadDir(m.cacheDir)
	if err != nil {
		return
	}
	nowMs := m.nowMs()
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		stale := err != nil
		if err == nil {
			modifiedMs := info.ModTime().UnixMilli()
			stale = nowMs-modifiedMs > handleTTL.Milliseconds()
		}
		if stale {
			os.Remove(filepath.Join(m.cacheDir, de.Name()))
		}
	}
}

func (m *Manager) nowMs() int64 {
	return m.now().UnixMilli()
}

func extensionFromMime(mime string) string {
	value := strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(value, "image/jpeg"):
		return "jpg"
	case strings.HasPrefix(value, "image/png"):
		return "png"
	case strings.HasPrefix(value, "image/webp"):
		return "webp"
	case strings.HasPrefix(value, "image/gif"):
		return "gif"
	case strings.HasPrefix(value, "audio/mpeg"):
		return "mp3"
	case strings.HasPrefix(value, "audio/wav"):
		return "wav"
	case strings.HasPrefix(value, "audio/ogg"):
		return "ogg"
	case strings.HasPrefix(value, "application/pdf"):
		return "pdf"
	default:
		return ""
	}
}
