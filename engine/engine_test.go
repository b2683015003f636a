package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgesync/downlink"
	"github.com/c360/edgesync/eventlog"
	"github.com/c360/edgesync/fanout"
	"github.com/c360/edgesync/naming"
	"github.com/c360/edgesync/notify"
	"github.com/c360/edgesync/registry"
	"github.com/c360/edgesync/store"
	"github.com/c360/edgesync/types"
	"github.com/c360/edgesync/uplink"
	"github.com/c360/edgesync/wire"
)

type memTransport struct {
	mu        sync.Mutex
	handler   func(context.Context, []byte)
	published map[string][][]byte
}

func newMemTransport() *memTransport {
	return &memTransport{published: make(map[string][][]byte)}
}

func (tr *memTransport) Subscribe(_ context.Context, _ string, handler func(context.Context, []byte)) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.handler = handler
	return nil
}

func (tr *memTransport) Publish(_ context.Context, subject string, data []byte) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.published[subject] = append(tr.published[subject], data)
	return nil
}

func (tr *memTransport) send(t *testing.T, data []byte) {
	t.Helper()
	tr.mu.Lock()
	handler := tr.handler
	tr.mu.Unlock()
	require.NotNil(t, handler, "engine must have subscribed")
	handler(context.Background(), data)
}

func (tr *memTransport) receivedOn(subject string) [][]byte {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([][]byte(nil), tr.published[subject]...)
}

type engineFixture struct {
	engine    *Engine
	transport *memTransport
	chains    *store.MemoryRuleChains
	relations *store.MemoryRelations
	edges     *store.MemoryEdges
	log       *eventlog.MemoryLog
	tenant    types.TenantID
	edge      types.EdgeID
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	transport := newMemTransport()
	chains := store.NewMemoryRuleChains()
	relations := store.NewMemoryRelations()
	edges := store.NewMemoryEdges()
	log := eventlog.NewMemoryLog()

	tenant := types.NewTenantID()
	edge := types.NewEdgeID()
	require.NoError(t, edges.Save(context.Background(), &types.Edge{
		ID: edge, TenantID: tenant, Name: "test-edge",
	}))

	deps := &uplink.Deps{
		Resolver:   naming.NewResolver(15),
		Dispatcher: fanout.New(log, relations, edges, 100, nil, nil),
		Notifier:   notify.New(transport, slog.Default()),
		Relations:  relations,
	}

	reg := registry.New()
	require.NoError(t, reg.RegisterProcessor(uplink.NewRuleChainProcessor(deps, chains, 0)))
	require.NoError(t, reg.RegisterConverter(downlink.NewRuleChainConverter(chains, edges)))

	drainer := downlink.NewDrainer(log, reg, transport, wire.Latest, 100, 10*time.Millisecond, nil, nil)

	e := New(transport, reg, drainer, Options{Workers: 2, QueueSize: 16, StopTimeout: 5 * time.Second}, slog.Default())
	return &engineFixture{
		engine:    e,
		transport: transport,
		chains:    chains,
		relations: relations,
		edges:     edges,
		log:       log,
		tenant:    tenant,
		edge:      edge,
	}
}

func (f *engineFixture) uplinkEnvelope(t *testing.T, msgType wire.MsgType, id types.EntityID, name string) []byte {
	t.Helper()

	payload, err := json.Marshal(map[string]any{"id": id, "name": name})
	require.NoError(t, err)
	msg, err := json.Marshal(wire.UplinkMsg{
		MsgType:    msgType,
		EntityType: types.EntityTypeRuleChain,
		EntityID:   id,
		Version:    wire.Latest,
		Payload:    payload,
	})
	require.NoError(t, err)
	env, err := json.Marshal(UplinkEnvelope{TenantID: f.tenant, EdgeID: f.edge, Msg: msg})
	require.NoError(t, err)
	return env
}

func TestEngine_UplinkFlowsThroughToStore(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, f.engine.Start(context.Background()))
	defer func() { require.NoError(t, f.engine.Stop()) }()

	id := types.NewEntityID()
	f.transport.send(t, f.uplinkEnvelope(t, wire.MsgTypeEntityCreated, id, "ingest"))

	require.Eventually(t, func() bool {
		_, err := f.chains.Get(context.Background(), f.tenant, id)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	// The origin edge is attached for downlink after its first message.
	assert.Contains(t, f.engine.drainer.Attached(), f.edge)
}

func TestEngine_UpdateReachesOtherEdgeViaDrainer(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Start(ctx))
	defer func() { require.NoError(t, f.engine.Stop()) }()

	other := types.NewEdgeID()
	require.NoError(t, f.edges.Save(ctx, &types.Edge{
		ID: other, TenantID: f.tenant, Name: "other-edge",
	}))
	f.engine.AttachEdge(other)

	id := types.NewEntityID()
	f.transport.send(t, f.uplinkEnvelope(t, wire.MsgTypeEntityCreated, id, "shared"))
	require.Eventually(t, func() bool {
		_, err := f.chains.Get(ctx, f.tenant, id)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.relations.Link(ctx, other, types.EntityTypeRuleChain, id))
	f.transport.send(t, f.uplinkEnvelope(t, wire.MsgTypeEntityUpdated, id, "shared"))

	subject := downlink.SubjectFor(other)
	require.Eventually(t, func() bool {
		return len(f.transport.receivedOn(subject)) > 0
	}, time.Second, 5*time.Millisecond)

	var msg wire.DownlinkMsg
	require.NoError(t, json.Unmarshal(f.transport.receivedOn(subject)[0], &msg))
	assert.Equal(t, id, msg.EntityID)
	assert.Equal(t, wire.MsgTypeEntityUpdated, msg.MsgType)

	// No echo to the origin.
	assert.Empty(t, f.transport.receivedOn(downlink.SubjectFor(f.edge)))
}

func TestEngine_MalformedTrafficIgnored(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, f.engine.Start(context.Background()))
	defer func() { require.NoError(t, f.engine.Stop()) }()

	f.transport.send(t, []byte("not json"))
	f.transport.send(t, []byte(`{"tenant_id":null,"edge_id":null,"msg":{}}`))

	env, err := json.Marshal(UplinkEnvelope{
		TenantID: f.tenant, EdgeID: f.edge,
		Msg: json.RawMessage(`{"entity_type":"NO_SUCH_KIND"}`),
	})
	require.NoError(t, err)
	f.transport.send(t, env)

	stats := f.engine.Stats()
	assert.Zero(t, stats.Submitted)
}

func TestEngine_StopIsIdempotentAndRejectsNewWork(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, f.engine.Start(context.Background()))

	require.NoError(t, f.engine.Stop())
	require.NoError(t, f.engine.Stop())

	// Traffic after stop is dropped without panic.
	id := types.NewEntityID()
	f.transport.send(t, f.uplinkEnvelope(t, wire.MsgTypeEntityCreated, id, "late"))
	_, err := f.chains.Get(context.Background(), f.tenant, id)
	assert.Error(t, err)
}
