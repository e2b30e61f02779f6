package wire

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/drblury/flowplan/internal/model"
	"github.com/drblury/flowplan/internal/runtime/hlc"
	"github.com/drblury/flowplan/internal/runtime/message"
)

// Proto encodes messages in the protobuf binary format, field by field:
//
//	message DataMessage {
//	  bytes payload = 1;
//	  Timestamp timestamp = 2;
//	  repeated Deadline deadlines = 3;
//	  repeated Miss missed = 4;
//	}
//	message Timestamp { int64 physical = 1; uint32 logical = 2; string id = 3; }
//	message Deadline { string from_node = 1; string from_output = 2; string to_node = 3;
//	                   string to_input = 4; int64 duration_ns = 5; Timestamp start = 6; }
//	message Miss { string from_node = 1; string from_output = 2; string to_node = 3;
//	               string to_input = 4; Timestamp start = 5; Timestamp end = 6; }
type Proto struct{}

func (Proto) Name() string        { return NameProto }
func (Proto) ContentType() string { return "application/x-protobuf" }

func (Proto) Encode(msg *message.DataMessage) ([]byte, error) {
	payload, err := msg.Data.Bytes()
	if err != nil {
		return nil, fmt.Errorf("wire: payload: %w", err)
	}

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, appendTimestamp(nil, msg.Timestamp))
	for _, d := range msg.EndToEndDeadlines {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, appendDeadline(nil, d))
	}
	for _, m := range msg.MissedEndToEndDeadlines {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, appendMiss(nil, m))
	}
	return b, nil
}

func (Proto) Decode(data []byte) (*message.DataMessage, error) {
	msg := &message.DataMessage{}
	var payload []byte
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		switch num {
		case 1:
			payload = append([]byte(nil), v...)
		case 2:
			ts, err := consumeTimestamp(v)
			if err != nil {
				return 0, err
			}
			msg.Timestamp = ts
		case 3:
			d, err := consumeDeadline(v)
			if err != nil {
				return 0, err
			}
			msg.EndToEndDeadlines = append(msg.EndToEndDeadlines, d)
		case 4:
			m, err := consumeMiss(v)
			if err != nil {
				return 0, err
			}
			msg.MissedEndToEndDeadlines = append(msg.MissedEndToEndDeadlines, m)
		}
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("wire: proto: %w", err)
	}
	msg.Data = message.FromBytes(payload)
	return msg, nil
}

func appendTimestamp(b []byte, ts hlc.Timestamp) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ts.Physical))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ts.Logical))
	if ts.ID != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, ts.ID)
	}
	return b
}

func appendEndpoints(b []byte, from model.OutputDescriptor, to model.InputDescriptor) []byte {
	for i, s := range []string{string(from.Node), string(from.Output), string(to.Node), string(to.Input)} {
		b = protowire.AppendTag(b, protowire.Number(i+1), protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	return b
}

func appendDeadline(b []byte, d message.E2EDeadline) []byte {
	b = appendEndpoints(b, d.From, d.To)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Duration))
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	return protowire.AppendBytes(b, appendTimestamp(nil, d.Start))
}

func appendMiss(b []byte, m message.E2EDeadlineMiss) []byte {
	b = appendEndpoints(b, m.From, m.To)
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendBytes(b, appendTimestamp(nil, m.Start))
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	return protowire.AppendBytes(b, appendTimestamp(nil, m.End))
}

// consumeFields walks the fields of a message. fn returns the number of bytes
// it consumed after the tag, or a negative protowire error code.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func consumeTimestamp(b []byte) (hlc.Timestamp, error) {
	var ts hlc.Timestamp
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			ts.Physical = int64(v)
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			ts.Logical = uint32(v)
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			ts.ID = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return ts, err
}

type endpoints struct {
	from model.OutputDescriptor
	to   model.InputDescriptor
}

// consume handles fields 1 to 4, shared by deadlines and misses.
func (e *endpoints) consume(num protowire.Number, b []byte) (int, bool) {
	if num < 1 || num > 4 {
		return 0, false
	}
	v, n := protowire.ConsumeString(b)
	switch num {
	case 1:
		e.from.Node = model.NodeID(v)
	case 2:
		e.from.Output = model.PortID(v)
	case 3:
		e.to.Node = model.NodeID(v)
	case 4:
		e.to.Input = model.PortID(v)
	}
	return n, true
}

func consumeDeadline(b []byte) (message.E2EDeadline, error) {
	var (
		ep endpoints
		d  message.E2EDeadline
	)
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.BytesType {
			if n, ok := ep.consume(num, b); ok {
				return n, nil
			}
		}
		switch {
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			d.Duration = time.Duration(v)
			return n, nil
		case num == 6 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			ts, err := consumeTimestamp(v)
			d.Start = ts
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	d.From, d.To = ep.from, ep.to
	return d, err
}

func consumeMiss(b []byte) (message.E2EDeadlineMiss, error) {
	var (
		ep endpoints
		m  message.E2EDeadlineMiss
	)
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		if n, ok := ep.consume(num, b); ok {
			return n, nil
		}
		if num != 5 && num != 6 {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		ts, err := consumeTimestamp(v)
		if num == 5 {
			m.Start = ts
		} else {
			m.End = ts
		}
		return n, err
	})
	m.From, m.To = ep.from, ep.to
	return m, err
}
