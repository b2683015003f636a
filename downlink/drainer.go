package downlink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/eventlog"
	"github.com/c360/edgesync/metric"
	"github.com/c360/edgesync/types"
	"github.com/c360/edgesync/wire"
)

// SubjectFor returns the delivery subject for one edge.
func SubjectFor(edge types.EdgeID) string {
	return "edge.downlink." + edge.String()
}

// Publisher is the transport the drainer delivers through.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Log is the event log surface the drainer consumes.
type Log interface {
	Fetch(ctx context.Context, edge types.EdgeID, batch int) ([]eventlog.Pending, error)
	Depth(ctx context.Context, edge types.EdgeID) (int, error)
}

// Converters resolves the converter for an entity kind.
type Converters interface {
	Converter(entityType types.EntityType) (Converter, error)
}

// Drainer periodically drains queued entries for the attached edges,
// converts them, and publishes the wire messages. Entries are acknowledged
// only after a successful publish; a failed publish leaves the entry queued
// for redelivery, so delivery is at-least-once and entry application on the
// edge must stay idempotent.
type Drainer struct {
	log        Log
	converters Converters
	pub        Publisher
	version    wire.ProtoVersion
	batch      int
	interval   time.Duration
	metrics    *metric.SyncMetrics
	logger     *slog.Logger

	mu    sync.RWMutex
	edges map[types.EdgeID]struct{}
}

// NewDrainer creates a drainer. A nil metrics handle disables counters.
func NewDrainer(log Log, converters Converters, pub Publisher, version wire.ProtoVersion,
	batch int, interval time.Duration, metrics *metric.SyncMetrics, logger *slog.Logger) *Drainer {

	if batch <= 0 {
		batch = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Drainer{
		log:        log,
		converters: converters,
		pub:        pub,
		version:    version,
		batch:      batch,
		interval:   interval,
		metrics:    metrics,
		logger:     logger,
		edges:      make(map[types.EdgeID]struct{}),
	}
}

// Attach adds an edge to the drain set. Idempotent.
func (d *Drainer) Attach(edge types.EdgeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.edges[edge] = struct{}{}
}

// Detach removes an edge from the drain set. Queued entries stay in the log
// and resume delivery on the next attach.
func (d *Drainer) Detach(edge types.EdgeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.edges, edge)
}

// Attached returns a snapshot of the drain set.
func (d *Drainer) Attached() []types.EdgeID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.EdgeID, 0, len(d.edges))
	for edge := range d.edges {
		out = append(out, edge)
	}
	return out
}

// Run drains all attached edges every interval until the context ends.
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, edge := range d.Attached() {
				if _, err := d.DrainEdge(ctx, edge); err != nil {
					d.logger.Warn("drain pass failed", "edge_id", edge, "error", err)
				}
			}
		}
	}
}

// DrainEdge fetches one batch for the edge and delivers it in order. It
// returns the number of messages published. A transport failure stops the
// batch; the failed entry and everything behind it stay queued.
func (d *Drainer) DrainEdge(ctx context.Context, edge types.EdgeID) (int, error) {
	pending, err := d.log.Fetch(ctx, edge, d.batch)
	if err != nil {
		return 0, errors.Wrap(err, "Drainer", "DrainEdge", "fetch")
	}

	delivered := 0
	for _, p := range pending {
		ok, err := d.deliver(ctx, edge, p)
		if err != nil {
			d.observeDepth(ctx, edge)
			return delivered, err
		}
		if ok {
			delivered++
		}
	}

	d.observeDepth(ctx, edge)
	return delivered, nil
}

// deliver converts and publishes one entry. It reports whether a message was
// actually published; dropped entries acknowledge without delivery.
func (d *Drainer) deliver(ctx context.Context, edge types.EdgeID, p eventlog.Pending) (bool, error) {
	conv, err := d.converters.Converter(p.EntityType)
	if err != nil {
		// Nothing can ever convert this entry; keeping it would wedge the
		// edge's queue behind it.
		d.logger.Error("no converter for queued entry, dropping",
			"edge_id", edge, "entity_type", p.EntityType, "entity_id", p.EntityID)
		return false, p.Ack()
	}

	msg, err := conv.Convert(ctx, p.Entry, d.version)
	if err != nil {
		if errors.IsInvalid(err) {
			d.logger.Error("unconvertible entry, dropping",
				"edge_id", edge, "entity_id", p.EntityID, "error", err)
			return false, p.Ack()
		}
		if nakErr := p.Nak(); nakErr != nil {
			d.logger.Warn("nak failed", "edge_id", edge, "error", nakErr)
		}
		return false, errors.Wrap(err, "Drainer", "deliver", "convert")
	}

	if msg == nil {
		// Stale: the entity is gone or gated since the entry was queued.
		if d.metrics != nil {
			d.metrics.DownlinkStale.WithLabelValues(string(p.EntityType)).Inc()
		}
		return false, p.Ack()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return false, errors.Wrap(err, "Drainer", "deliver", "marshal")
	}
	if err := d.pub.Publish(ctx, SubjectFor(edge), data); err != nil {
		if nakErr := p.Nak(); nakErr != nil {
			d.logger.Warn("nak failed", "edge_id", edge, "error", nakErr)
		}
		return false, errors.WrapTransient(err, "Drainer", "deliver", "publish")
	}

	if d.metrics != nil {
		d.metrics.DownlinkMessages.WithLabelValues(string(p.EntityType), string(p.Action)).Inc()
	}
	return true, p.Ack()
}

func (d *Drainer) observeDepth(ctx context.Context, edge types.EdgeID) {
	if d.metrics == nil {
		return
	}
	depth, err := d.log.Depth(ctx, edge)
	if err != nil {
		return
	}
	d.metrics.EventLogDepth.WithLabelValues(edge.String()).Set(float64(depth))
}
