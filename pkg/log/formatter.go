package log

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// TextFormatter renders entries as a single human-readable line:
//
//	2006-01-02T15:04:05.000Z07:00 INFO  message key=value key2=value2
type TextFormatter struct {
	// TimestampFormat defaults to RFC3339 with milliseconds.
	TimestampFormat  string
	DisableTimestamp bool
	ShowCaller       bool
}

const defaultTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

func (f *TextFormatter) Format(e *Entry) ([]byte, error) {
	var b bytes.Buffer
	if !f.DisableTimestamp {
		layout := f.TimestampFormat
		if layout == "" {
			layout = defaultTimestampFormat
		}
		b.WriteString(entryTime(e).Format(layout))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s %s", e.Level.String(), e.Message)
	for _, k := range sortedKeys(e.Fields) {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(textValue(e.Fields[k]))
	}
	if f.ShowCaller && e.Caller != "" {
		b.WriteString(" caller=")
		b.WriteString(e.Caller)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func textValue(v interface{}) string {
	var s string
	switch t := v.(type) {
	case nil:
		return "nil"
	case string:
		s = t
	case error:
		s = t.Error()
	case time.Time:
		return t.Format(defaultTimestampFormat)
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// JSONFormatter renders entries as one JSON object per line.
type JSONFormatter struct {
	ShowCaller bool
}

func (f *JSONFormatter) Format(e *Entry) ([]byte, error) {
	m := make(map[string]interface{}, len(e.Fields)+4)
	for k, v := range e.Fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		m[k] = v
	}
	m["ts"] = entryTime(e).Format(time.RFC3339Nano)
	m["level"] = strings.ToLower(e.Level.String())
	m["msg"] = e.Message
	if f.ShowCaller && e.Caller != "" {
		m["caller"] = e.Caller
	}
	out, err := sonnet.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func entryTime(e *Entry) time.Time {
	if e.Timestamp.IsZero() {
		return time.Now()
	}
	return e.Timestamp
}

func sortedKeys(m Fields) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
