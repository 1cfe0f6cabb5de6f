package relaychat

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Payload decoding for hub arguments whose shape is not guaranteed.
// Every accessor reports presence separately so callers pick their own default.

var now = time.Now

var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// decodeObject accepts a JSON object or a JSON string holding an object.
func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(t), &m); err != nil || m == nil {
			return nil, false
		}
		return m, true
	}
	return nil, false
}

func decodeChatMessage(raw json.RawMessage) (ChatMessage, bool) {
	m, ok := decodeObject(raw)
	if !ok {
		return ChatMessage{}, false
	}
	msg := ChatMessage{
		Type:    strOr(m, "type", DefaultMessageType),
		From:    strOr(m, "from", ""),
		To:      strOr(m, "to", ""),
		Message: strOr(m, "message", ""),
	}
	if ts, ok := timeField(m, "timestamp"); ok {
		msg.Timestamp = ts
	} else {
		msg.Timestamp = now()
	}
	return msg, true
}

// lookup matches keys case-insensitively, exact match first.
func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := lookup(m, key)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func strOr(m map[string]any, key, fallback string) string {
	if v, ok := stringField(m, key); ok && v != "" {
		return v
	}
	return fallback
}

func timeField(m map[string]any, key string) (time.Time, bool) {
	v, ok := lookup(m, key)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case string:
		return parseTimestamp(t)
	case float64:
		return time.UnixMilli(int64(t)), true
	}
	return time.Time{}, false
}

// parseTimestamp reads RFC 3339 first, then zone-less forms as local time.
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, true
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func boolArg(raw json.RawMessage) (bool, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	case float64:
		return t != 0, true
	}
	return false, false
}

func stringArg(raw json.RawMessage) (string, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}
