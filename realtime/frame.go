package realtime

import (
	"strings"

	"github.com/bytedance/sonic"
)

// envelope is the JSON form of an event: {"event": "...", "data": ...}.
type envelope struct {
	Event string `json:"event"`
	Type  string `json:"type,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// parseEnvelope reads a JSON event object. A bare JSON string is taken as
// the event name.
func parseEnvelope(raw []byte) (Event, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return Event{}, false
	}
	if trimmed[0] == '"' {
		var name string
		if err := sonic.UnmarshalString(trimmed, &name); err != nil || name == "" {
			return Event{}, false
		}
		return Event{Name: name}, true
	}
	if trimmed[0] != '{' {
		return Event{}, false
	}
	var env envelope
	if err := sonic.UnmarshalString(trimmed, &env); err != nil {
		return Event{}, false
	}
	name := env.Event
	if name == "" {
		name = env.Type
	}
	if name == "" {
		return Event{}, false
	}
	return Event{Name: name, Data: marshalData(env.Data)}, true
}

// parseSocketIOEvent reads a socket.io event packet, "42" optionally
// followed by a namespace and ack id, then ["name", data...].
func parseSocketIOEvent(packet string) (Event, bool) {
	if !strings.HasPrefix(packet, "42") {
		return Event{}, false
	}
	body := packet[2:]
	i := strings.IndexByte(body, '[')
	if i < 0 {
		return Event{}, false
	}
	var args []any
	if err := sonic.UnmarshalString(body[i:], &args); err != nil || len(args) == 0 {
		return Event{}, false
	}
	name, ok := args[0].(string)
	if !ok || name == "" {
		return Event{}, false
	}
	ev := Event{Name: name}
	if len(args) > 1 {
		ev.Data = marshalData(args[1])
	}
	return ev, true
}

func marshalData(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
