package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DefaultLeadingFields are the correlation fields engine loggers attach.
// Formatters print them ahead of all other fields, in this order.
var DefaultLeadingFields = []string{"session_id", "method", "progress_token"}

// TextFormatter formats log entries as human-readable text:
//
//	<timestamp> [LEVEL] [request id] component/operation: message | session_id=... method=... other=...
type TextFormatter struct {
	// TimestampFormat is the format for timestamps
	TimestampFormat string
	// DisableColors disables terminal colors
	DisableColors bool
	// DisableTimestamp disables timestamp output
	DisableTimestamp bool
	// DisableSorting keeps the remaining fields in map order
	DisableSorting bool
	// LeadingFields are printed first, in order, when present
	LeadingFields []string
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
		LeadingFields:   DefaultLeadingFields,
	}
}

// Format formats a log entry as text
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer

	if !f.DisableTimestamp {
		buf.WriteString(entry.Timestamp.Format(f.TimestampFormat))
		buf.WriteByte(' ')
	}

	levelText := "[" + entry.Level.String() + "]"
	if !f.DisableColors {
		levelText = colorLevel(entry.Level, levelText)
	}
	buf.WriteString(levelText)
	buf.WriteByte(' ')

	if entry.RequestID != "" {
		buf.WriteString("[" + entry.RequestID + "] ")
	}

	if entry.Component != "" {
		buf.WriteString(entry.Component)
		if entry.Operation != "" {
			buf.WriteByte('/')
			buf.WriteString(entry.Operation)
		}
		buf.WriteString(": ")
	}

	buf.WriteString(entry.Message)

	if pairs := f.fieldPairs(entry); len(pairs) > 0 {
		buf.WriteString(" | ")
		buf.WriteString(strings.Join(pairs, " "))
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// fieldPairs renders the fields not already shown in the header as
// key=value pairs, leading fields first
func (f *TextFormatter) fieldPairs(entry *Entry) []string {
	shown := map[string]bool{}
	if entry.RequestID != "" {
		shown["request_id"] = true
	}
	if entry.Component != "" {
		shown["component"] = true
		if entry.Operation != "" {
			shown["operation"] = true
		}
	}

	leading, rest := splitFields(entry.Fields, f.LeadingFields, shown)

	pairs := make([]string, 0, len(entry.Fields))
	for _, k := range leading {
		pairs = append(pairs, k+"="+textValue(entry.Fields[k]))
	}

	var tail []string
	for _, k := range rest {
		tail = append(tail, k+"="+textValue(entry.Fields[k]))
	}
	if !f.DisableSorting {
		sort.Strings(tail)
	}
	return append(pairs, tail...)
}

func textValue(v interface{}) string {
	switch val := v.(type) {
	case error:
		return val.Error()
	case string:
		if strings.ContainsAny(val, " \t\n\"") {
			return fmt.Sprintf("%q", val)
		}
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

func colorLevel(level Level, text string) string {
	const (
		red    = "\033[31m"
		yellow = "\033[33m"
		blue   = "\033[34m"
		gray   = "\033[90m"
		reset  = "\033[0m"
	)

	switch level {
	case DebugLevel:
		return gray + text + reset
	case InfoLevel:
		return blue + text + reset
	case WarnLevel:
		return yellow + text + reset
	case ErrorLevel, FatalLevel:
		return red + text + reset
	default:
		return text
	}
}

// JSONFormatter formats log entries as one JSON object per line. Keys come
// out as level, timestamp, message, component, request_id, then the leading
// fields, then everything else sorted.
type JSONFormatter struct {
	// PrettyPrint enables pretty printing
	PrettyPrint bool
	// TimestampFormat is the format for timestamps
	TimestampFormat string
	// DisableTimestamp disables timestamp output
	DisableTimestamp bool
	// LeadingFields follow the header keys, in order, when present
	LeadingFields []string
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		LeadingFields:   DefaultLeadingFields,
	}
}

// Format formats a log entry as JSON
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	obj := orderedObject{}
	obj.add("level", entry.Level.String())
	if !f.DisableTimestamp {
		obj.add("timestamp", entry.Timestamp.Format(f.TimestampFormat))
	}
	obj.add("message", entry.Message)

	header := map[string]bool{"level": true, "timestamp": true, "message": true}
	for _, k := range []string{"component", "request_id"} {
		if v, ok := entry.Fields[k]; ok {
			obj.add(k, v)
			header[k] = true
		}
	}

	leading, rest := splitFields(entry.Fields, f.LeadingFields, header)
	sort.Strings(rest)
	for _, k := range append(leading, rest...) {
		obj.add(k, entry.Fields[k])
	}

	out, err := obj.marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal log entry: %w", err)
	}

	if f.PrettyPrint {
		var indented bytes.Buffer
		if err := json.Indent(&indented, out, "", "  "); err != nil {
			return nil, fmt.Errorf("failed to indent log entry: %w", err)
		}
		out = indented.Bytes()
	}

	return append(out, '\n'), nil
}

// splitFields returns the leading keys present in fields, in order, and the
// remaining keys in map order. Keys in skip are left out of both.
func splitFields(fields map[string]interface{}, leadingKeys []string, skip map[string]bool) (leading, rest []string) {
	isLeading := make(map[string]bool, len(leadingKeys))
	for _, k := range leadingKeys {
		isLeading[k] = true
		if _, ok := fields[k]; ok && !skip[k] {
			leading = append(leading, k)
		}
	}
	for k := range fields {
		if !skip[k] && !isLeading[k] {
			rest = append(rest, k)
		}
	}
	return leading, rest
}

// orderedObject is a JSON object that keeps insertion order
type orderedObject struct {
	keys   []string
	values []interface{}
}

func (o *orderedObject) add(key string, value interface{}) {
	if err, ok := value.(error); ok {
		value = err.Error()
	}
	o.keys = append(o.keys, key)
	o.values = append(o.values, value)
}

func (o *orderedObject) marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(o.values[i])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
