// Package engine wires the synchronization pipeline: the uplink subscription
// feeding a bounded worker pool of per-entity-kind processors, and the
// downlink drainer delivering queued event log entries back to edges.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/edgesync/downlink"
	"github.com/c360/edgesync/errors"
	"github.com/c360/edgesync/pkg/worker"
	"github.com/c360/edgesync/registry"
	"github.com/c360/edgesync/types"
	"github.com/c360/edgesync/wire"
)

// SubjectUplink is the wildcard the engine subscribes to. Edges publish to
// edge.uplink.<edgeID>; the envelope itself carries the authoritative tenant
// and edge ids.
const SubjectUplink = "edge.uplink.>"

// UplinkEnvelope is the transport-level wrapper around a wire message.
type UplinkEnvelope struct {
	TenantID types.TenantID  `json:"tenant_id"`
	EdgeID   types.EdgeID    `json:"edge_id"`
	Msg      json.RawMessage `json:"msg"`
}

// Transport is the messaging surface the engine needs.
type Transport interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
	Publish(ctx context.Context, subject string, data []byte) error
}

type uplinkWork struct {
	tenant types.TenantID
	edge   types.EdgeID
	msg    *wire.UplinkMsg
}

// Options sizes the engine's moving parts.
type Options struct {
	Workers     int
	QueueSize   int
	StopTimeout time.Duration
}

// Engine runs the sync pipeline over one transport connection.
type Engine struct {
	transport Transport
	registry  *registry.Registry
	drainer   *downlink.Drainer
	pool      *worker.Pool[uplinkWork]
	logger    *slog.Logger

	stopTimeout time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	draining sync.WaitGroup
	started  bool
	stopping bool
}

// New creates an engine. The registry must already hold a processor and a
// converter for every entity kind the deployment syncs.
func New(transport Transport, reg *registry.Registry, drainer *downlink.Drainer,
	opts Options, logger *slog.Logger) *Engine {

	if logger == nil {
		logger = slog.Default()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}

	e := &Engine{
		transport:   transport,
		registry:    reg,
		drainer:     drainer,
		logger:      logger,
		stopTimeout: opts.StopTimeout,
	}
	e.pool = worker.NewPool(opts.Workers, opts.QueueSize, e.process)
	return e
}

// Start subscribes to uplink traffic and launches the workers and the
// drain loop. It returns once the subscription is live.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := e.pool.Start(runCtx); err != nil {
		cancel()
		return errors.WrapFatal(err, "Engine", "Start", "worker pool")
	}

	if err := e.transport.Subscribe(ctx, SubjectUplink, e.handleUplink); err != nil {
		cancel()
		return errors.WrapFatal(err, "Engine", "Start", "uplink subscription")
	}

	e.draining.Add(1)
	go func() {
		defer e.draining.Done()
		e.drainer.Run(runCtx)
	}()

	e.cancel = cancel
	e.started = true
	e.logger.Info("sync engine started", "subject", SubjectUplink)
	return nil
}

// Stop quiesces the engine: no new uplink work is accepted, in-flight
// applies finish, then the drain loop ends. Queued event log entries stay
// durable and resume on the next start.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started || e.stopping {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	e.mu.Unlock()

	err := e.pool.Stop(e.stopTimeout)

	e.cancel()
	e.draining.Wait()

	e.logger.Info("sync engine stopped")
	return err
}

// AttachEdge starts downlink delivery for an edge. Edges also self-attach on
// their first uplink message.
func (e *Engine) AttachEdge(edge types.EdgeID) {
	e.drainer.Attach(edge)
}

// DetachEdge stops downlink delivery for an edge.
func (e *Engine) DetachEdge(edge types.EdgeID) {
	e.drainer.Detach(edge)
}

// handleUplink is the transport callback. It only parses and enqueues; the
// apply happens on the worker pool so a slow store cannot stall the
// subscription.
func (e *Engine) handleUplink(ctx context.Context, data []byte) {
	e.mu.Lock()
	stopping := e.stopping
	e.mu.Unlock()
	if stopping {
		e.logger.Debug("uplink rejected", "error", errors.ErrShuttingDown)
		return
	}

	var env UplinkEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		e.logger.Error("malformed uplink envelope", "error", err)
		return
	}
	if env.TenantID.IsNil() || env.EdgeID.IsNil() {
		e.logger.Error("uplink envelope missing tenant or edge id")
		return
	}

	msg, err := wire.ParseUplink(env.Msg)
	if err != nil {
		e.logger.Error("unparseable uplink message",
			"tenant_id", env.TenantID, "edge_id", env.EdgeID, "error", err)
		return
	}

	err = e.pool.Submit(uplinkWork{tenant: env.TenantID, edge: env.EdgeID, msg: msg})
	if err != nil {
		// ErrQueueFull is backpressure; the edge redelivers, applies are
		// idempotent by entity id.
		e.logger.Warn("uplink not enqueued",
			"tenant_id", env.TenantID, "edge_id", env.EdgeID, "error", err)
	}
}

func (e *Engine) process(ctx context.Context, work uplinkWork) error {
	proc, err := e.registry.Processor(work.msg.EntityType)
	if err != nil {
		e.logger.Error("uplink for unregistered entity kind dropped",
			"entity_type", work.msg.EntityType, "edge_id", work.edge)
		return err
	}

	outcome, err := proc.Apply(ctx, work.tenant, work.edge, work.msg)
	if err != nil {
		e.logger.Error("uplink apply failed",
			"tenant_id", work.tenant,
			"edge_id", work.edge,
			"entity_type", work.msg.EntityType,
			"entity_id", work.msg.EntityID,
			"class", errors.Classify(err).String(),
			"error", err)
		return err
	}

	e.logger.Debug("uplink applied",
		"edge_id", work.edge,
		"entity_type", work.msg.EntityType,
		"entity_id", work.msg.EntityID,
		"result", outcome.Result,
		"renamed", outcome.Renamed)

	// Traffic proves the edge is live; make sure its queue drains.
	e.drainer.Attach(work.edge)
	return nil
}

// Stats exposes worker pool counters for the health surface.
func (e *Engine) Stats() worker.PoolStats {
	return e.pool.Stats()
}
