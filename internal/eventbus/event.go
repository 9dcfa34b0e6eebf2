package eventbus

import (
	"bytes"
	"encoding/json"
)

// Event names carried on board streams.
const (
	EventConnected    = "connected"
	EventBoardUpdated = "board-updated"
	EventBoardDeleted = "board-deleted"
)

// Heartbeat is the SSE keepalive frame. It is a comment line, so clients never
// dispatch it as a named event.
var Heartbeat = []byte(": ping\n\n")

// Event is a named frame with a JSON payload.
type Event struct {
	Name string
	Data json.RawMessage
}

// NewEvent marshals payload into an Event.
func NewEvent(name string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: data}, nil
}

// SSE renders the event as a Server-Sent Events frame.
func (e Event) SSE() []byte {
	var buf bytes.Buffer
	buf.Grow(len(e.Name) + len(e.Data) + 16)
	buf.WriteString("event: ")
	buf.WriteString(e.Name)
	buf.WriteString("\ndata: ")
	buf.Write(e.Data)
	buf.WriteString("\n\n")
	return buf.Bytes()
}

// MarshalJSON renders the event as {"event": name, "data": payload}, the
// framing used on message-oriented transports.
func (e Event) MarshalJSON() ([]byte, error) {
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{Event: e.Name, Data: data})
}
