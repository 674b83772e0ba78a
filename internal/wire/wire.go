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

// Package wire encodes the numeric-keyed LXMF sideband fields (reply/
// reaction app-extensions, telemetry, rich attachments) that ride inside a
// message's msgpack-base64-wrapped fields map.
package wire

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Numeric LXMF field ids. FieldTelemetry and FieldFileAttachments are
// carried from the collaborator's wire field table; FieldAppExtensions is
// this shell's own reply/reaction extension id.
const (
	FieldTelemetry       = 0x04
	FieldFileAttachments = 0x05
	FieldAppExtensions   = 0x10
)

// TransportFieldsMsgpackB64Key is the JSON wrapper key under which an
// encoded fields map travels between the shell and the runtime.
const TransportFieldsMsgpackB64Key = "lxmf_fields_msgpack_b64"

// TelemetryLocation is the sideband position reading to pack under
// FieldTelemetry. Alt, Speed, Bearing, and Accuracy are optional; a nil
// pointer packs as zero.
type TelemetryLocation struct {
	Lat                float64
	Lon                float64
	Alt                *float64
	Speed              *float64
	Bearing            *float64
	Accuracy           *float64
	UpdatedUnixSeconds int64
}

// Attachment is one rich-message file attachment to encode under
// FieldFileAttachments.
type Attachment struct {
	Name string
	Data []byte
}

// MergeInput collects the optional send-path extras that get merged into
// an outgoing message's fields map.
type MergeInput struct {
	Fields         map[string]any
	ReplyTo        string
	ReactionTo     string
	ReactionEmoji  string
	ReactionSender string
	Telemetry      *TelemetryLocation
}

// MergeSendFields folds reply/reaction app-extension metadata and a
// telemetry reading into fields, returning the original fields unchanged
// when neither is present. The result, when non-nil, is always a
// single-key {TransportFieldsMsgpackB64Key: base64(msgpack)} envelope.
func MergeSendFields(input MergeInput) (map[string]any, error) {
	ext, err := buildAppExtensions(input.ReplyTo, input.ReactionTo, input.ReactionEmoji, input.ReactionSender)
	if err != nil {
		return nil, err
	}
	var telemetry map[int]any
	if input.Telemetry != nil {
		telemetry = buildTelemetryValue(*input.Telemetry)
	}
	if ext == nil && telemetry == nil {
		return input.Fields, nil
	}

	entries, err := decodeOrConvertFieldMap(input.Fields)
	if err != nil {
		return nil, err
	}
	if ext != nil {
		upsertNumericField(entries, FieldAppExtensions, ext)
	}
	if telemetry != nil {
		upsertNumericField(entries, FieldTelemetry, telemetry)
	}
	return encodeFieldsEnvelope(entries)
}

// EncodeAttachments builds a fresh fields envelope carrying attachments
// under FieldFileAttachments. Returns (nil, nil) for an empty slice.
func EncodeAttachments(attachments []Attachment) (map[string]any, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	encoded := make([]any, 0, len(attachments))
	for i, a := range attachments {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return nil, fmt.Errorf("attachments[%d].name is required", i)
		}
		if len(a.Data) == 0 {
			return nil, fmt.Errorf("attachments[%d].data must not be empty", i)
		}
		encoded = append(encoded, []any{[]byte(name), a.Data})
	}
	entries := map[any]any{int64(FieldFileAttachments): encoded}
	return encodeFieldsEnvelope(entries)
}

// DecodeAttachmentBytes decodes a data_base64 attachment payload, trying
// standard then URL-safe base64 alphabets.
func DecodeAttachmentBytes(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("must not be empty")
	}
	if data, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return data, nil
	}
	data, err := base64.URLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("must be valid base64: %w", err)
	}
	return data, nil
}

// DecodeOrConvertFieldMap exposes decodeOrConvertFieldMap for callers that
// need the normalized, numerically-keyed view of an existing fields map
// (e.g. to inspect or re-merge without going through MergeSendFields).
func DecodeOrConvertFieldMap(fields map[string]any) (map[any]any, error) {
	return decodeOrConvertFieldMap(fields)
}

func buildAppExtensions(replyTo, reactionTo, reactionEmoji, reactionSender string) (map[string]any, error) {
	replyTo = strings.TrimSpace(replyTo)
	reactionTo = strings.TrimSpace(reactionTo)
	reactionEmoji = strings.TrimSpace(reactionEmoji)
	reactionSender = strings.TrimSpace(reactionSender)

	if (reactionTo != "") != (reactionEmoji != "") {
		return nil, fmt.Errorf("reaction metadata requires both reaction_to and reaction_emoji")
	}
	if replyTo == "" && reactionTo == "" {
		return nil, nil
	}

	entries := make(map[string]any)
	if replyTo != "" {
		entries["reply_to"] = replyTo
	}
	if reactionTo != "" && reactionEmoji != "" {
		entries["reaction_to"] = reactionTo
		entries["emoji"] = reactionEmoji
		if reactionSender != "" {
			entries["sender"] = reactionSender
		}
	}
	return entries, nil
}

// buildTelemetryValue packs loc into a map with integer keys 0x01
// (unix seconds) and 0x02 (scaled, big-endian-on-the-wire integer tuple
// via msgpack's own integer encoding).
func buildTelemetryValue(loc TelemetryLocation) map[int]any {
	lat := clamp(loc.Lat, -90, 90)
	lon := clamp(loc.Lon, -180, 180)
	alt := optionalOrZero(loc.Alt)
	speed := math.Max(optionalOrZero(loc.Speed), 0)
	bearing := optionalOrZero(loc.Bearing)
	accuracy := math.Max(optionalOrZero(loc.Accuracy), 0)

	values := []int64{
		scaleRoundEven(lat, 1e6),
		scaleRoundEven(lon, 1e6),
		scaleRoundEven(alt, 1e2),
		scaleRoundEven(speed, 1e2),
		scaleRoundEven(bearing, 1e2),
		scaleRoundEven(accuracy, 1e2),
		loc.UpdatedUnixSeconds,
	}
	return map[int]any{
		0x01: loc.UpdatedUnixSeconds,
		0x02: values,
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func optionalOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func scaleRoundEven(v, factor float64) int64 {
	return int64(math.RoundToEven(v * factor))
}

// decodeOrConvertFieldMap normalizes fields into a mutable id->value map.
// When fields already carries a TransportFieldsMsgpackB64Key envelope, it
// is base64-decoded and msgpack-unmarshalled, preserving the genuine
// integer field ids it was encoded with. Otherwise fields' entries are
// copied through as-is (plain JSON keys stay strings, even numeric-looking
// ones like "5" — only the msgpack envelope round-trip carries true
// integer keys).
func decodeOrConvertFieldMap(fields map[string]any) (map[any]any, error) {
	if fields == nil {
		return make(map[any]any), nil
	}
	if raw, ok := fields[TransportFieldsMsgpackB64Key]; ok {
		encoded, _ := raw.(string)
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", TransportFieldsMsgpackB64Key, err)
		}
		// Nested maps (the telemetry value is keyed by integers) decode as
		// map[any]any; the default decoder only accepts string keys there.
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.SetMapDecoder(func(d *msgpack.Decoder) (any, error) { return d.DecodeUntypedMap() })
		var decoded map[any]any
		if err := dec.Decode(&decoded); err != nil {
			return nil, fmt.Errorf("decode %s msgpack value: %w", TransportFieldsMsgpackB64Key, err)
		}
		return decoded, nil
	}

	out := make(map[any]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, nil
}

func upsertNumericField(entries map[any]any, fieldID int, value any) {
	for k := range entries {
		if fieldKeyMatches(k, fieldID) {
			delete(entries, k)
		}
	}
	entries[int64(fieldID)] = value
}

func fieldKeyMatches(key any, fieldID int) bool {
	switch v := key.(type) {
	case int64:
		return v == int64(fieldID)
	case int:
		return v == fieldID
	case uint64:
		return v == uint64(fieldID)
	case string:
		return strings.TrimSpace(v) == strconv.Itoa(fieldID)
	default:
		return false
	}
}

func encodeFieldsEnvelope(entries map[any]any) (map[string]any, error) {
	data, err := msgpack.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode message fields: %w", err)
	}
	return map[string]any{
		TransportFieldsMsgpackB64Key: base64.StdEncoding.EncodeToString(data),
	}, nil
}
