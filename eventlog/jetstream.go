package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/natsclient"
	"github.com/c360/edgesync/pkg/retry"
	"github.com/c360/edgesync/types"
)

const (
	// StreamName is the JetStream stream holding all queued edge events.
	StreamName = "EDGESYNC_EVENTS"

	subjectPrefix = "edgesync.events"
)

func edgeSubject(edge types.EdgeID) string {
	return fmt.Sprintf("%s.%s", subjectPrefix, edge)
}

func edgeDurable(edge types.EdgeID) string {
	return "drain-" + edge.String()
}

// JetStreamLog is the durable event log backed by a JetStream stream with one
// filtered pull consumer per edge.
type JetStreamLog struct {
	client *natsclient.Client
	js     jetstream.JetStream
	stream jetstream.Stream

	consumers   map[string]jetstream.Consumer
	consumersMu sync.Mutex

	fetchWait time.Duration
}

// NewJetStreamLog creates the event log stream if it does not exist.
func NewJetStreamLog(ctx context.Context, client *natsclient.Client) (*JetStreamLog, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "JetStreamLog", "NewJetStreamLog", "nats client cannot be nil")
	}

	js, err := client.JetStream()
	if err != nil {
		return nil, err
	}

	stream, err := retry.DoWithResult(ctx, retry.Registration(), func() (jetstream.Stream, error) {
		return client.CreateStream(ctx, jetstream.StreamConfig{
			Name:        StreamName,
			Description: "Queued entity changes awaiting edge delivery",
			Subjects:    []string{subjectPrefix + ".>"},
			Retention:   jetstream.InterestPolicy,
			Storage:     jetstream.FileStorage,
		})
	})
	if err != nil {
		return nil, err
	}

	return &JetStreamLog{
		client:    client,
		js:        js,
		stream:    stream,
		consumers: make(map[string]jetstream.Consumer),
		fetchWait: 500 * time.Millisecond,
	}, nil
}

// Append queues an entry for its edge. The publish is acknowledged by the
// stream before Append returns, so an accepted entry survives restarts.
func (l *JetStreamLog) Append(ctx context.Context, entry Entry) error {
	if entry.EdgeID.IsNil() {
		return errors.WrapInvalid(errors.ErrMalformedPayload, "JetStreamLog", "Append", "entry has no edge")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.WrapFatal(err, "JetStreamLog", "Append", "marshal entry")
	}

	if err := l.client.PublishToStream(ctx, edgeSubject(entry.EdgeID), data); err != nil {
		return errors.WrapTransient(err, "JetStreamLog", "Append", "publish entry")
	}
	return nil
}

func (l *JetStreamLog) consumerFor(ctx context.Context, edge types.EdgeID) (jetstream.Consumer, error) {
	durable := edgeDurable(edge)

	l.consumersMu.Lock()
	defer l.consumersMu.Unlock()

	if consumer, ok := l.consumers[durable]; ok {
		return consumer, nil
	}

	consumer, err := l.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: edgeSubject(edge),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    -1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "JetStreamLog", "consumerFor", "create consumer")
	}

	l.consumers[durable] = consumer
	return consumer, nil
}

// Fetch returns up to batch pending entries for the edge in append order.
// Entries stay in the log until their Ack is called.
func (l *JetStreamLog) Fetch(ctx context.Context, edge types.EdgeID, batch int) ([]Pending, error) {
	consumer, err := l.consumerFor(ctx, edge)
	if err != nil {
		return nil, err
	}

	msgs, err := consumer.Fetch(batch, jetstream.FetchMaxWait(l.fetchWait))
	if err != nil {
		return nil, errors.WrapTransient(err, "JetStreamLog", "Fetch", "fetch batch")
	}

	var pending []Pending
	for msg := range msgs.Messages() {
		var entry Entry
		if err := json.Unmarshal(msg.Data(), &entry); err != nil {
			// A corrupt entry can never convert; drop it rather than wedge
			// the edge's queue.
			_ = msg.Term()
			continue
		}
		pending = append(pending, Pending{
			Entry: entry,
			Ack:   msg.Ack,
			Nak:   msg.Nak,
		})
	}
	if err := msgs.Error(); err != nil {
		return pending, errors.WrapTransient(err, "JetStreamLog", "Fetch", "batch error")
	}
	return pending, nil
}

// Depth reports how many entries are queued for the edge.
func (l *JetStreamLog) Depth(ctx context.Context, edge types.EdgeID) (int, error) {
	consumer, err := l.consumerFor(ctx, edge)
	if err != nil {
		return 0, err
	}

	info, err := consumer.Info(ctx)
	if err != nil {
		return 0, errors.WrapTransient(err, "JetStreamLog", "Depth", "consumer info")
	}
	return int(info.NumPending), nil
}
