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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coretommy/weft/internal/runtime"
	"github.com/coretommy/weft/internal/wire"
)

func durationMs(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

type listAnnouncesParams struct {
	selectorInput
	Limit    *int   `json:"limit,omitempty"`
	BeforeTS *int64 `json:"before_ts,omitempty"`
	Cursor   string `json:"cursor,omitempty"`
}

func handleListAnnounces(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var in listAnnouncesParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, fmt.Errorf("invalid request: must be a JSON object")
		}
	}
	sel, err := s.Selectors.Resolve(in.Profile, in.RPC)
	if err != nil {
		return nil, err
	}

	rpcParams := map[string]any{}
	if in.Limit != nil {
		rpcParams["limit"] = clampInt(*in.Limit, 1, 5000)
	}
	if in.BeforeTS != nil {
		rpcParams["before_ts"] = *in.BeforeTS
	}
	if cursor := strings.TrimSpace(in.Cursor); cursor != "" {
		rpcParams["cursor"] = cursor
	}
	var encodedParams json.RawMessage
	if len(rpcParams) > 0 {
		encodedParams, err = json.Marshal(rpcParams)
		if err != nil {
			return nil, fmt.Errorf("internal: encode list_announces params: %w", err)
		}
	}

	raw, err := s.Actor.Rpc(ctx, sel, "list_announces", encodedParams)
	if err != nil {
		return nil, err
	}

	var response struct {
		Announces  json.RawMessage `json:"announces"`
		NextCursor json.RawMessage `json:"next_cursor"`
		Meta       json.RawMessage `json:"meta"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, fmt.Errorf("internal: decode list_announces response: %w", err)
	}
	return map[string]any{
		"announces":   orNullRaw(response.Announces),
		"next_cursor": orNullRaw(response.NextCursor),
		"meta":        orNullRaw(response.Meta),
	}, nil
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func orNullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// sendMessageParams is the shared shape of lxmf_send_message and
// lxmf_send_rich_message (which additionally carries Attachments).
type sendMessageParams struct {
	selectorInput
	Destination          string            `json:"destination"`
	Content              string            `json:"content"`
	Title                string            `json:"title,omitempty"`
	Source               string            `json:"source,omitempty"`
	ID                   string            `json:"id,omitempty"`
	Fields               map[string]any    `json:"fields,omitempty"`
	Method               string            `json:"method,omitempty"`
	StampCost            *uint64           `json:"stamp_cost,omitempty"`
	IncludeTicket        bool              `json:"include_ticket,omitempty"`
	TryPropagationOnFail bool              `json:"try_propagation_on_fail,omitempty"`
	ReplyTo              string            `json:"reply_to,omitempty"`
	ReactionTo           string            `json:"reaction_to,omitempty"`
	ReactionEmoji        string            `json:"reaction_emoji,omitempty"`
	ReactionSender       string            `json:"reaction_sender,omitempty"`
	TelemetryLocation    *telemetryInput   `json:"telemetry_location,omitempty"`
	Attachments          []attachmentInput `json:"attachments,omitempty"`
}

type telemetryInput struct {
	Lat                float64  `json:"lat"`
	Lon                float64  `json:"lon"`
	Alt                *float64 `json:"alt,omitempty"`
	Speed              *float64 `json:"speed,omitempty"`
	Bearing            *float64 `json:"bearing,omitempty"`
	Accuracy           *float64 `json:"accuracy,omitempty"`
	UpdatedUnixSeconds int64    `json:"updated_unix_seconds"`
}

type attachmentInput struct {
	Name       string `json:"name"`
	DataBase64 string `json:"data_base64"`
	Mime       string `json:"mime,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
}

// defaultSendMethod is the preferred send RPC method; the underlying
// Handle implementation falls back to the legacy "send_message" RPC if the
// daemon does not recognize it. Requesting the fallback explicitly is a
// collaborator (Handle/daemon) concern, not this layer's.
const defaultSendMethod = "send_message_v2"

func decodeSendMessageParams(params json.RawMessage) (sendMessageParams, error) {
	var in sendMessageParams
	if len(params) == 0 {
		return in, fmt.Errorf("invalid request: destination is required")
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return in, fmt.Errorf("invalid request: must be a JSON object")
	}
	in.Destination = strings.TrimSpace(in.Destination)
	if in.Destination == "" {
		return in, fmt.Errorf("destination is required")
	}
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return in, fmt.Errorf("content is required")
	}
	return in, nil
}

func buildSendMessageRequest(in sendMessageParams, fields map[string]any) (runtime.SendMessageRequest, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	method := strings.TrimSpace(in.Method)
	if method == "" {
		method = defaultSendMethod
	}

	var encodedFields json.RawMessage
	if len(fields) > 0 {
		encoded, err := json.Marshal(fields)
		if err != nil {
			return runtime.SendMessageRequest{}, fmt.Errorf("internal: encode message fields: %w", err)
		}
		encodedFields = encoded
	}

	return runtime.SendMessageRequest{
		ID:                   id,
		Source:               strings.TrimSpace(in.Source),
		Destination:          in.Destination,
		Title:                in.Title,
		Content:              in.Content,
		Fields:               encodedFields,
		Method:               method,
		StampCost:            in.StampCost,
		IncludeTicket:        in.IncludeTicket,
		TryPropagationOnFail: in.TryPropagationOnFail,
	}, nil
}

func mergeWireFields(in sendMessageParams) (map[string]any, error) {
	var telemetry *wire.TelemetryLocation
	if in.TelemetryLocation != nil {
		t := in.TelemetryLocation
		telemetry = &wire.TelemetryLocation{
			Lat: t.Lat, Lon: t.Lon, Alt: t.Alt, Speed: t.Speed,
			Bearing: t.Bearing, Accuracy: t.Accuracy, UpdatedUnixSeconds: t.UpdatedUnixSeconds,
		}
	}
	return wire.MergeSendFields(wire.MergeInput{
		Fields:         in.Fields,
		ReplyTo:        in.ReplyTo,
		ReactionTo:     in.ReactionTo,
		ReactionEmoji:  in.ReactionEmoji,
		ReactionSender: in.ReactionSender,
		Telemetry:      telemetry,
	})
}

func sendMessageResult(raw json.RawMessage, req runtime.SendMessageRequest) any {
	var response struct {
		Result json.RawMessage `json:"result"`
	}
	_ = json.Unmarshal(raw, &response)
	data := response.Result
	if len(data) == 0 {
		data = raw
	}
	return map[string]any{
		"result": orNullRaw(data),
		"resolved": map[string]any{
			"source":      req.Source,
			"destination": req.Destination,
		},
	}
}

func handleSendMessage(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	in, err := decodeSendMessageParams(params)
	if err != nil {
		return nil, err
	}
	sel, err := s.Selectors.Resolve(in.Profile, in.RPC)
	if err != nil {
		return nil, err
	}
	fields, err := mergeWireFields(in)
	if err != nil {
		return nil, err
	}
	req, err := buildSendMessageRequest(in, fields)
	if err != nil {
		return nil, err
	}
	raw, err := s.Actor.SendMessage(ctx, sel, req)
	if err != nil {
		return nil, err
	}
	return sendMessageResult(raw, req), nil
}

func handleSendRichMessage(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	in, err := decodeSendMessageParams(params)
	if err != nil {
		return nil, err
	}
	sel, err := s.Selectors.Resolve(in.Profile, in.RPC)
	if err != nil {
		return nil, err
	}

	attachments := make([]wire.Attachment, 0, len(in.Attachments))
	for i, a := range in.Attachments {
		data, decodeErr := wire.DecodeAttachmentBytes(a.DataBase64)
		if decodeErr != nil {
			return nil, fmt.Errorf("attachments[%d].data_base64 %w", i, decodeErr)
		}
		attachments = append(attachments, wire.Attachment{Name: a.Name, Data: data})
	}
	attachmentFields, err := wire.EncodeAttachments(attachments)
	if err != nil {
		return nil, err
	}
	in.Fields = attachmentFields

	fields, err := mergeWireFields(in)
	if err != nil {
		return nil, err
	}
	req, err := buildSendMessageRequest(in, fields)
	if err != nil {
		return nil, err
	}
	raw, err := s.Actor.SendMessage(ctx, sel, req)
	if err != nil {
		return nil, err
	}
	return sendMessageResult(raw, req), nil
}

// sendCommandParams mirrors the original lxmf_send_command's flat
// argument list: each entry of Commands/CommandsHex is an "ID:PAYLOAD"
// spec parsed by runtime.ParseCommandSpec, the same shape weftctl's
// --command flag uses.
type sendCommandParams struct {
	selectorInput
	Destination   string   `json:"destination"`
	Commands      []string `json:"commands,omitempty"`
	CommandsHex   []string `json:"commands_hex,omitempty"`
	Content       string   `json:"content,omitempty"`
	Title         string   `json:"title,omitempty"`
	Source        string   `json:"source,omitempty"`
	ID            string   `json:"id,omitempty"`
	Method        string   `json:"method,omitempty"`
	StampCost     *uint64  `json:"stamp_cost,omitempty"`
	IncludeTicket bool     `json:"include_ticket,omitempty"`
}

func parseCommandEntries(commands, commandsHex []string) ([]runtime.CommandEntry, error) {
	entries := make([]runtime.CommandEntry, 0, len(commands)+len(commandsHex))
	for _, spec := range commands {
		id, payload, err := runtime.ParseCommandSpec(spec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, runtime.CommandEntryFromText(id, payload))
	}
	for _, spec := range commandsHex {
		id, payloadHex, err := runtime.ParseCommandSpec(spec)
		if err != nil {
			return nil, err
		}
		payload, err := decodeHex(payloadHex)
		if err != nil {
			return nil, fmt.Errorf("invalid command hex %q: %w", spec, err)
		}
		entries = append(entries, runtime.CommandEntryFromBytes(id, payload))
	}
	return entries, nil
}

func handleSendCommand(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var in sendCommandParams
	if len(params) == 0 {
		return nil, fmt.Errorf("invalid request: destination is required")
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("invalid request: must be a JSON object")
	}
	in.Destination = strings.TrimSpace(in.Destination)
	if in.Destination == "" {
		return nil, fmt.Errorf("destination is required")
	}

	entries, err := parseCommandEntries(in.Commands, in.CommandsHex)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("at least one command is required")
	}

	sel, err := s.Selectors.Resolve(in.Profile, in.RPC)
	if err != nil {
		return nil, err
	}

	msgReq, err := buildSendMessageRequest(sendMessageParams{
		selectorInput: in.selectorInput,
		Destination:   in.Destination,
		Content:       in.Content,
		Title:         in.Title,
		Source:        in.Source,
		ID:            in.ID,
		Method:        in.Method,
		StampCost:     in.StampCost,
		IncludeTicket: in.IncludeTicket,
	}, nil)
	if err != nil {
		return nil, err
	}

	raw, err := s.Actor.SendCommand(ctx, sel, runtime.SendCommandRequest{Message: msgReq, Commands: entries})
	if err != nil {
		return nil, err
	}
	return sendMessageResult(raw, msgReq), nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("must not be empty")
	}
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("must have an even number of digits")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, ok1 := hexDigit(s[i*2])
		lo, ok2 := hexDigit(s[i*2+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("contains non-hex characters")
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexDigit(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}

type eventPumpParams struct {
	selectorInput
	IntervalMs *int64 `json:"interval_ms,omitempty"`
}

func handlePollEvent(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	sel, err := decodeSelectorOnly(s, params)
	if err != nil {
		return nil, err
	}
	raw, err := s.Actor.PollEvent(ctx, sel)
	if err != nil {
		return nil, err
	}
	return orNullRaw(raw), nil
}

func handleStartEventPump(_ context.Context, s *Server, params json.RawMessage) (any, error) {
	var in eventPumpParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, fmt.Errorf("invalid request: must be a JSON object")
		}
	}
	sel, err := s.Selectors.Resolve(in.Profile, in.RPC)
	if err != nil {
		return nil, err
	}
	var interval int64
	if in.IntervalMs != nil {
		interval = *in.IntervalMs
	}
	if s.EventPump == nil {
		return nil, fmt.Errorf("runtime unavailable: event pump not wired")
	}
	clamped := s.EventPump.Start(sel, durationMs(interval))
	return map[string]any{"interval_ms": clamped.Milliseconds()}, nil
}

func handleStopEventPump(_ context.Context, s *Server, params json.RawMessage) (any, error) {
	if s.EventPump == nil {
		return nil, fmt.Errorf("runtime unavailable: event pump not wired")
	}
	s.EventPump.Stop()
	return map[string]any{"stopped": true}, nil
}
