package relay

import "encoding/json"

// envelope is the cross-process message shape published to
// ws:relay:<sessionId>. Receivers drop envelopes whose FromInstanceID
// equals their own to avoid re-delivering what they just published.
type envelope struct {
	FromInstanceID string          `json:"fromInstanceId"`
	SenderRole     string          `json:"senderRole"`
	Payload        json.RawMessage `json:"payload"`
}

func channelName(sessionID string) string {
	return "ws:relay:" + sessionID
}

func marshalEnvelope(instanceID string, senderRole Role, payload []byte) (string, error) {
	e := envelope{
		FromInstanceID: instanceID,
		SenderRole:     string(senderRole),
		Payload:        json.RawMessage(payload),
	}
	b, err := json.Marshal(e)
	return string(b), err
}
