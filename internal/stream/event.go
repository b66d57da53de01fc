package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Event names shared by every stream.
const (
	EventConnected         = "connected"
	EventDisconnectWarning = "disconnect_warning"
	EventClose             = "close"
	EventError             = "error"
)

// MessagePayload is the body of every control event.
type MessagePayload struct {
	Message string `json:"message"`
}

// WarningPayload announces the seconds left before a forced close.
type WarningPayload struct {
	Message   string `json:"message"`
	Remaining int    `json:"remaining"`
}

// EncodeEvent renders one SSE frame: "event: <name>\ndata: <json>\n\n".
// Non-ASCII text and HTML characters are written unescaped.
func EncodeEvent(name string, payload any) ([]byte, error) {
	if strings.ContainsAny(name, "\r\n") {
		return nil, fmt.Errorf("invalid event name %q", name)
	}

	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(name)
	buf.WriteString("\ndata: ")

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encode terminates the document with a newline.
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", name, err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func connectedMessage(event string) MessagePayload {
	return MessagePayload{Message: fmt.Sprintf("Connected to %s stream", event)}
}

func warningMessage(remaining int) WarningPayload {
	return WarningPayload{
		Message:   fmt.Sprintf("Connection will close in %d seconds", remaining),
		Remaining: remaining,
	}
}
