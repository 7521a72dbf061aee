package telephony

import (
	"encoding/xml"
	"fmt"
)

// TwiML structures for the voice webhook response that connects the call
// to the media-stream WebSocket.
type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string       `xml:"url,attr"`
	Parameters []twimlParam `xml:"Parameter"`
}

type twimlParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// StreamResponse renders the webhook reply that bridges the call onto the
// given WebSocket URL. params become `<Parameter>` entries surfaced in the
// start event, which is how the called number reaches the call handler.
func StreamResponse(wsURL string, params map[string]string) ([]byte, error) {
	resp := twimlResponse{
		Connect: twimlConnect{
			Stream: twimlStream{URL: wsURL},
		},
	}
	for name, value := range params {
		resp.Connect.Stream.Parameters = append(resp.Connect.Stream.Parameters, twimlParam{
			Name:  name,
			Value: value,
		})
	}

	body, err := xml.Marshal(&resp)
	if err != nil {
		return nil, fmt.Errorf("encode stream response: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
