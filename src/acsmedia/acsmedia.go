// Package acsmedia is the JSON framing for the ACS media WebSocket: a
// single "kind"-tagged envelope carrying either stream metadata, an audio
// chunk, or a DTMF digit inbound, and an audio chunk or stop-audio command
// outbound. The shape mirrors how this system's teacher framed Twilio media
// stream messages — a tagged JSON envelope decoded/encoded by event name —
// generalized from Twilio's "event" field to ACS's "kind" field.
package acsmedia

import "encoding/json"

// Frame is the envelope every inbound ACS media message arrives in. Only
// the field matching Kind is populated.
type Frame struct {
	Kind          string         `json:"kind"`
	AudioMetadata *AudioMetadata `json:"audioMetadata,omitempty"`
	AudioData     *AudioData     `json:"audioData,omitempty"`
	DTMFData      *DTMFData      `json:"dtmfData,omitempty"`
	StopAudio     *StopAudio     `json:"stopAudio,omitempty"`
}

// AudioMetadata announces the stream's encoding and layout. It arrives once
// near the start of a call.
type AudioMetadata struct {
	Encoding            string `json:"encoding"`
	SampleRate          int    `json:"sampleRate"`
	Channels            int    `json:"channels"`
	Length              int    `json:"length,omitempty"`
	MediaSubscriptionID string `json:"mediaSubscriptionId,omitempty"`
}

// AudioData carries one base64-encoded chunk of PCM16 audio.
type AudioData struct {
	Data      string `json:"data"`
	Timestamp string `json:"timestamp,omitempty"`
	Silent    bool   `json:"silent,omitempty"`
}

// DTMFData carries one DTMF digit. This system only logs DTMF; it is never
// forwarded to AOAI.
type DTMFData struct {
	Data string `json:"data"`
}

// StopAudio is sent by this system to ask ACS to discard any audio queued
// for playback, used on barge-in.
type StopAudio struct{}

// Decode parses one inbound frame.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(raw, &f)
	return f, err
}

// outboundAudio is the wire shape of an AudioData frame sent to ACS.
type outboundAudio struct {
	Kind      string `json:"kind"`
	AudioData struct {
		Data string `json:"data"`
	} `json:"audioData"`
}

// NewOutboundAudio builds the JSON-ready value for one outbound audio
// chunk, base64-encoded by the caller.
func NewOutboundAudio(base64Data string) any {
	out := outboundAudio{Kind: "AudioData"}
	out.AudioData.Data = base64Data
	return out
}

// outboundStopAudio is the wire shape of a StopAudio frame sent to ACS.
type outboundStopAudio struct {
	Kind      string    `json:"kind"`
	StopAudio StopAudio `json:"stopAudio"`
}

// NewOutboundStopAudio builds the JSON-ready value requesting ACS discard
// queued playback audio.
func NewOutboundStopAudio() any {
	return outboundStopAudio{Kind: "StopAudio"}
}
