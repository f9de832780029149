package mediator

// acsSink is the only capability the mediator needs from the ACS-facing
// connection: send one JSON-serializable value. Replacing a direct
// reference to the ACS websocket with this narrow interface means the
// mediator's egress and barge-in logic depend on a capability, not on the
// gateway's transport type — the mediator never learns it's talking to a
// *wsconn.Conn at all.
type acsSink interface {
	SendJSON(v any) error
}

// wsAudioSink adapts a *wsconn.Conn to acsSink.
type wsAudioSink struct {
	conn interface{ WriteJSON(v any) error }
}

// NewACSSink wraps any connection exposing WriteJSON as an acsSink.
func NewACSSink(conn interface{ WriteJSON(v any) error }) acsSink {
	return &wsAudioSink{conn: conn}
}

func (s *wsAudioSink) SendJSON(v any) error {
	return s.conn.WriteJSON(v)
}
