// Package telephony implements the media-stream wire protocol spoken over
// the voice WebSocket: JSON events carrying base64 mu-law audio frames.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Event names on the media stream.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
)

// Track identifiers inside media events.
const (
	TrackInbound  = "inbound"
	TrackOutbound = "outbound"
)

// Telephone audio is 8kHz single-channel mu-law, one byte per sample.
const (
	SampleRate     = 8000
	Channels       = 1
	BytesPerSecond = SampleRate * Channels
)

// Event is one message on the media stream. Only the section matching
// Event is populated.
type Event struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSid      string `json:"streamSid,omitempty"`

	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
	Stop  *StopPayload  `json:"stop,omitempty"`
}

// StartPayload announces a new stream and identifies the call.
type StartPayload struct {
	StreamSid    string       `json:"streamSid"`
	AccountSid   string       `json:"accountSid"`
	CallSid      string       `json:"callSid"`
	Tracks       []string     `json:"tracks"`
	MediaFormat  MediaFormat  `json:"mediaFormat"`
	CustomParams CustomParams `json:"customParameters,omitempty"`
}

// MediaFormat describes the audio encoding on the stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// CustomParams carries the `<Parameter>` values set in the stream verb.
// The called number rides here so the handler can route to a restaurant.
type CustomParams map[string]string

// MediaPayload carries one frame of base64 mu-law audio.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StopPayload closes the stream.
type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// ParseEvent decodes one wire message. Unknown event names are returned
// as-is so callers can skip them.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parse media stream event: %w", err)
	}
	if ev.Event == "" {
		return nil, fmt.Errorf("media stream event missing event field")
	}
	return &ev, nil
}

// Audio decodes the base64 payload of a media event. Non-media events and
// empty payloads return nil without error.
func (e *Event) Audio() ([]byte, error) {
	if e.Event != EventMedia || e.Media == nil || e.Media.Payload == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(e.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	return data, nil
}

// Inbound reports whether a media event carries caller audio. Frames with
// no track label are treated as inbound, matching providers that omit it.
func (e *Event) Inbound() bool {
	return e.Event == EventMedia && e.Media != nil &&
		(e.Media.Track == "" || e.Media.Track == TrackInbound)
}

// NewMediaMessage encodes synthesized audio as an outbound media event,
// ready to write to the stream socket.
func NewMediaMessage(streamSid string, audio []byte) ([]byte, error) {
	ev := Event{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media: &MediaPayload{
			Track:   TrackOutbound,
			Payload: base64.StdEncoding.EncodeToString(audio),
		},
	}
	data, err := json.Marshal(&ev)
	if err != nil {
		return nil, fmt.Errorf("encode media message: %w", err)
	}
	return data, nil
}
