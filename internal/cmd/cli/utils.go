package cli

import (
	"encoding/base64"
	"io"
	"time"
	"unicode/utf8"

	"github.com/sugawarayuuta/sonnet"

	"github.com/rzbill/fmq/pkg/fmq"
)

// writeJSON writes v as one JSON line.
func writeJSON(w io.Writer, v any) error {
	b, err := sonnet.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// decodedMessage returns a map with the message metadata and one of
// payload_json, payload_text, or payload_b64.
func decodedMessage(m fmq.Message) map[string]any {
	out := map[string]any{
		"id":         m.ID,
		"type":       m.Type,
		"subtype":    m.Subtype,
		"store_time": m.StoreTime.Format(time.RFC3339Nano),
	}
	addPayload(out, m.Payload)
	return out
}

func addPayload(out map[string]any, payload []byte) {
	// Try JSON first if it looks like JSON
	if len(payload) > 0 && (payload[0] == '{' || payload[0] == '[') {
		var v any
		if sonnet.Unmarshal(payload, &v) == nil {
			out["payload_json"] = v
			return
		}
	}
	if utf8.Valid(payload) {
		out["payload_text"] = string(payload)
		return
	}
	out["payload_b64"] = base64.StdEncoding.EncodeToString(payload)
}

// printable renders a payload for text output.
func printable(payload []byte) string {
	if utf8.Valid(payload) {
		return string(payload)
	}
	return "b64:" + base64.StdEncoding.EncodeToString(payload)
}
