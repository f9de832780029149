package aoai

import (
	"encoding/base64"
	"encoding/json"
)

// Event is a tagged-variant view of one inbound AOAI Realtime server event.
// Rather than switching on a dynamically-typed payload, callers check Type
// and use the typed accessors below; anything this system doesn't handle
// falls through to the catch-all "Other" branch in the mediator's dispatch
// switch.
type Event struct {
	Type string
	Raw  json.RawMessage
}

// ParseEvent decodes one JSON text frame from the AOAI Realtime websocket
// into an Event. Only the "type" field is eagerly decoded; everything else
// is read lazily by the accessors below.
func ParseEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Event{}, err
	}
	return Event{Type: head.Type, Raw: json.RawMessage(data)}, nil
}

func (e Event) field(name string) (string, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(e.Raw, &m); err != nil {
		return "", false
	}
	raw, ok := m[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// EventID returns the event's "event_id" field, if present.
func (e Event) EventID() (string, bool) {
	return e.field("event_id")
}

// ResponseID returns the response-scoped "response_id" field used by audio
// and transcript delta/done events, when present.
func (e Event) ResponseID() (string, bool) {
	return e.field("response_id")
}

// AudioDelta base64-decodes the "delta" field carried by
// response.audio.delta / response.output_audio.delta events.
func (e Event) AudioDelta() ([]byte, bool) {
	s, ok := e.field("delta")
	if !ok || s == "" {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return b, true
}

// TranscriptDelta returns the incremental text carried by an output
// transcript delta event.
func (e Event) TranscriptDelta() (string, bool) {
	return e.field("delta")
}

// TranscriptText extracts the best-effort final transcript text from a
// transcription-completed, transcription-failed, or transcript-done event.
// The AOAI event catalogue is not fully standardized across event names, so
// this checks the handful of keys those events are known to use, mirroring
// the multi-key fallback extraction of the system this was distilled from.
func (e Event) TranscriptText() (string, bool) {
	for _, key := range []string{"transcript", "text"} {
		if s, ok := e.field(key); ok && s != "" {
			return s, true
		}
	}
	var nested struct {
		Transcription *struct {
			Text string `json:"text"`
		} `json:"transcription"`
	}
	if err := json.Unmarshal(e.Raw, &nested); err == nil && nested.Transcription != nil && nested.Transcription.Text != "" {
		return nested.Transcription.Text, true
	}
	return "", false
}
