package wire

import (
	"fmt"

	"github.com/drblury/flowplan/internal/runtime/hlc"
	"github.com/drblury/flowplan/internal/runtime/jsoncodec"
	"github.com/drblury/flowplan/internal/runtime/message"
)

// JSON encodes messages as a sonic JSON envelope with a base64 payload.
type JSON struct{}

type jsonEnvelope struct {
	Payload   []byte                    `json:"payload"`
	Timestamp hlc.Timestamp             `json:"timestamp"`
	Deadlines []message.E2EDeadline     `json:"deadlines,omitempty"`
	Missed    []message.E2EDeadlineMiss `json:"missed,omitempty"`
}

func (JSON) Name() string        { return NameJSON }
func (JSON) ContentType() string { return "application/json" }

func (JSON) Encode(msg *message.DataMessage) ([]byte, error) {
	payload, err := msg.Data.Bytes()
	if err != nil {
		return nil, fmt.Errorf("wire: payload: %w", err)
	}
	return jsoncodec.Marshal(jsonEnvelope{
		Payload:   payload,
		Timestamp: msg.Timestamp,
		Deadlines: msg.EndToEndDeadlines,
		Missed:    msg.MissedEndToEndDeadlines,
	})
}

func (JSON) Decode(data []byte) (*message.DataMessage, error) {
	var env jsonEnvelope
	if err := jsoncodec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: json: %w", err)
	}
	return &message.DataMessage{
		Data:                    message.FromBytes(env.Payload),
		Timestamp:               env.Timestamp,
		EndToEndDeadlines:       env.Deadlines,
		MissedEndToEndDeadlines: env.Missed,
	}, nil
}
