package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
	"github.com/drblury/flowplan/internal/runtime/hlc"
	idspkg "github.com/drblury/flowplan/internal/runtime/ids"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
	msgpkg "github.com/drblury/flowplan/internal/runtime/message"
	"github.com/drblury/flowplan/internal/runtime/metadata"
	"github.com/drblury/flowplan/internal/runtime/wire"
)

// reasonSerialization labels messages a connector could not encode or decode.
const reasonSerialization = "serialization"

// RecordingResource names the resource a sender copies its traffic to while
// recording.
func RecordingResource(flow string, instance uuid.UUID, sender model.NodeID, start hlc.Timestamp) string {
	return fmt.Sprintf("/zf/record/%s/%s/%s/%d", flow, instance, sender, start.Physical)
}

// SenderRunner publishes the messages of its single input on the transport
// topic of its resource.
type SenderRunner struct {
	core

	record    model.ConnectorRecord
	topic     string
	publisher message.Publisher
	mws       []message.HandlerMiddleware

	recMu       sync.Mutex
	recording   string
	recordTopic string
}

var _ Runner = (*SenderRunner)(nil)

// NewSenderRunner binds a sender connector to the transport of ic.
func NewSenderRunner(ic *InstanceContext, rec model.ConnectorRecord) (*SenderRunner, error) {
	if rec.Kind != model.ConnectorSender {
		return nil, fmt.Errorf("connector %s is a %s, not a sender", rec.ID, rec.Kind)
	}
	if ic.Transport.Publisher == nil {
		return nil, fmt.Errorf("%w: sender %s needs a transport publisher", errspkg.ErrConfigRequired, rec.ID)
	}
	r := &SenderRunner{
		core:      newCore(ic, rec.ID, KindConnector, []model.PortID{rec.Link.ID}, nil),
		record:    rec,
		topic:     ic.Transport.TopicFor(rec.Resource),
		publisher: ic.Transport.Publisher,
	}
	r.mws = []message.HandlerMiddleware{
		correlationIDMiddleware(),
		tracerMiddleware(ic.Tracer, "connector.send"),
		ic.Retry.middleware(loggingpkg.NewWatermillAdapter(r.log)),
	}
	return r, nil
}

// Topic returns the transport topic the sender publishes on.
func (r *SenderRunner) Topic() string { return r.topic }

func (r *SenderRunner) Run(ctx context.Context) error {
	if err := r.begin(); err != nil {
		return err
	}
	return r.end(r.loop(ctx))
}

func (r *SenderRunner) loop(ctx context.Context) error {
	port := r.record.Link.ID
	codec := r.ic.Codec
	caps := r.ic.Transport.Capabilities
	headers := metadata.Connector(r.ic.Flow, r.ic.Instance.String(), r.record.Resource, string(r.id), codec.Name(), codec.ContentType())

	for {
		rx, err := r.inputLink(port)
		if err != nil {
			return err
		}
		_, msg, err := rx.Recv(ctx)
		if errors.Is(err, errspkg.ErrLinkClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		data, ok := msg.(*msgpkg.DataMessage)
		if !ok {
			return fmt.Errorf("sender %s: control messages: %w", r.id, errspkg.ErrUnimplemented)
		}
		r.ic.Metrics.MessageReceived(string(r.id), string(port))

		payload, err := codec.Encode(data)
		if err != nil {
			r.ic.Metrics.RunnerError(string(r.id), reasonSerialization)
			r.log.Error("Failed to encode message", err, nil)
			continue
		}
		if !caps.Fits(len(payload)) {
			r.ic.Metrics.RunnerError(string(r.id), reasonSerialization)
			r.log.Error("Message exceeds the transport size limit", nil, loggingpkg.LogFields{
				"bytes": len(payload),
				"limit": caps.MaxMessageSize,
			})
			continue
		}

		wm := message.NewMessage(idspkg.CreateULID(), payload)
		headers.Apply(wm)
		wm.SetContext(ctx)

		if err := r.publish(r.topic, wm); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.ic.Metrics.RunnerError(string(r.id), reasonFatal)
			r.log.Error("Failed to publish message", err, loggingpkg.LogFields{"topic": r.topic})
			continue
		}
		r.ic.Metrics.MessageSent(string(r.id), r.topic)

		if topic := r.recordingTopic(); topic != "" {
			cp := wm.Copy()
			cp.UUID = idspkg.CreateULID()
			cp.SetContext(ctx)
			if err := r.publish(topic, cp); err != nil && ctx.Err() == nil {
				r.log.Error("Failed to publish recorded message", err, loggingpkg.LogFields{"topic": topic})
			}
		}
	}
}

func (r *SenderRunner) publish(topic string, msg *message.Message) error {
	h := chain(func(msg *message.Message) ([]*message.Message, error) {
		return nil, r.publisher.Publish(topic, msg)
	}, r.mws...)
	_, err := h(msg)
	return err
}

func (r *SenderRunner) recordingTopic() string {
	r.recMu.Lock()
	defer r.recMu.Unlock()
	return r.recordTopic
}

// StartRecording copies every published message to a recording resource
// until StopRecording. It returns the resource; starting twice returns the
// active one.
func (r *SenderRunner) StartRecording(context.Context) (string, error) {
	r.recMu.Lock()
	defer r.recMu.Unlock()
	if r.recording != "" {
		return r.recording, nil
	}
	r.recording = RecordingResource(r.ic.Flow, r.ic.Instance, r.id, r.ic.Clock.NewTimestamp())
	r.recordTopic = r.ic.Transport.TopicFor(r.recording)
	r.log.Info("Recording started", loggingpkg.LogFields{"resource": r.recording})
	return r.recording, nil
}

// StopRecording ends the active recording and returns its resource, or an
// empty string when nothing was recorded.
func (r *SenderRunner) StopRecording(context.Context) (string, error) {
	r.recMu.Lock()
	defer r.recMu.Unlock()
	resource := r.recording
	if resource != "" {
		r.log.Info("Recording stopped", loggingpkg.LogFields{"resource": resource})
	}
	r.recording = ""
	r.recordTopic = ""
	return resource, nil
}

func (r *SenderRunner) IsRecording() bool {
	r.recMu.Lock()
	defer r.recMu.Unlock()
	return r.recording != ""
}

// ReceiverRunner consumes the transport topic of its resource through a
// Watermill router and forwards every decoded message on its output.
type ReceiverRunner struct {
	core

	record     model.ConnectorRecord
	topic      string
	subscriber message.Subscriber
	ready      chan struct{}
}

var _ Runner = (*ReceiverRunner)(nil)

// NewReceiverRunner binds a receiver connector to sub, which is usually the
// instance-wide fanout over the transport subscriber.
func NewReceiverRunner(ic *InstanceContext, rec model.ConnectorRecord, sub message.Subscriber) (*ReceiverRunner, error) {
	if rec.Kind != model.ConnectorReceiver {
		return nil, fmt.Errorf("connector %s is a %s, not a receiver", rec.ID, rec.Kind)
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: receiver %s needs a transport subscriber", errspkg.ErrConfigRequired, rec.ID)
	}
	return &ReceiverRunner{
		core:       newCore(ic, rec.ID, KindConnector, nil, []model.PortID{rec.Link.ID}),
		record:     rec,
		topic:      ic.Transport.TopicFor(rec.Resource),
		subscriber: sub,
		ready:      make(chan struct{}),
	}, nil
}

// Topic returns the transport topic the receiver consumes.
func (r *ReceiverRunner) Topic() string { return r.topic }

// Ready is closed once the receiver subscribed.
func (r *ReceiverRunner) Ready() <-chan struct{} { return r.ready }

func (r *ReceiverRunner) Run(ctx context.Context) error {
	if err := r.begin(); err != nil {
		return err
	}
	return r.end(r.serve(ctx))
}

func (r *ReceiverRunner) serve(ctx context.Context) error {
	var wmLogger watermill.LoggerAdapter = loggingpkg.NewWatermillAdapter(r.log)
	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return fmt.Errorf("receiver %s: %w", r.id, err)
	}
	router.AddMiddleware(
		correlationIDMiddleware(),
		tracerMiddleware(r.ic.Tracer, "connector.receive"),
		logMessagesMiddleware(r.log),
		middleware.Recoverer,
	)
	router.AddNoPublisherHandler(string(r.id), r.topic, r.subscriber, func(msg *message.Message) error {
		return r.handle(ctx, msg)
	})

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-router.Running():
			close(r.ready)
		case <-stopped:
		}
	}()

	err = router.Run(ctx)
	if closeErr := router.Close(); err == nil {
		err = closeErr
	}
	return err
}

// handle decodes one transport message and forwards it. Messages that cannot
// be decoded are logged and acked: redelivering them would fail again.
func (r *ReceiverRunner) handle(ctx context.Context, msg *message.Message) error {
	codec := r.ic.Codec
	if name := metadata.FromWatermill(msg.Metadata).Codec(); name != "" && name != codec.Name() {
		c, err := wire.ForName(name)
		if err != nil {
			r.ic.Metrics.RunnerError(string(r.id), reasonSerialization)
			r.log.Error("Unknown codec on connector message", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
			return nil
		}
		codec = c
	}

	data, err := codec.Decode(msg.Payload)
	if err != nil {
		r.ic.Metrics.RunnerError(string(r.id), reasonSerialization)
		r.log.Error("Failed to decode connector message", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
		return nil
	}
	if err := r.ic.Clock.Update(data.Timestamp); err != nil {
		r.log.Error("Failed to update the clock", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
	}
	r.ic.Metrics.MessageReceived(string(r.id), r.topic)
	return r.broadcast(ctx, r.record.Link.ID, data)
}
