package uplink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/edgesync/eventlog"
	"github.com/c360/edgesync/fanout"
	"github.com/c360/edgesync/naming"
	"github.com/c360/edgesync/notify"
	"github.com/c360/edgesync/store"
	"github.com/c360/edgesync/types"
	"github.com/c360/edgesync/wire"
)

// recordingPublisher captures lifecycle notifications.
type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, data []byte) error {
	var ev notify.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) byKind(kind string) []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notify.Event
	for _, ev := range p.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// allowAllRefs satisfies RefChecker for tests that do not exercise
// reference validation.
type allowAllRefs struct{}

func (allowAllRefs) Exists(context.Context, types.TenantID, types.EntityID) (bool, error) {
	return true, nil
}

// setRefs answers Exists from a fixed id set.
type setRefs map[types.EntityID]bool

func (s setRefs) Exists(_ context.Context, _ types.TenantID, id types.EntityID) (bool, error) {
	return s[id], nil
}

type fixture struct {
	deps      *Deps
	log       *eventlog.MemoryLog
	relations *store.MemoryRelations
	edges     *store.MemoryEdges
	published *recordingPublisher
	tenant    types.TenantID
	edge      types.EdgeID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := eventlog.NewMemoryLog()
	relations := store.NewMemoryRelations()
	edges := store.NewMemoryEdges()
	published := &recordingPublisher{}

	deps := &Deps{
		Resolver:   naming.NewResolver(15),
		Dispatcher: fanout.New(log, relations, edges, 100, nil, nil),
		Notifier:   notify.New(published, slog.Default()),
		Relations:  relations,
		Logger:     slog.Default(),
	}

	f := &fixture{
		deps:      deps,
		log:       log,
		relations: relations,
		edges:     edges,
		published: published,
		tenant:    types.NewTenantID(),
		edge:      types.NewEdgeID(),
	}
	require.NoError(t, edges.Save(context.Background(), &types.Edge{
		ID:       f.edge,
		TenantID: f.tenant,
		Name:     "origin-edge",
	}))
	return f
}

func (f *fixture) registerEdge(t *testing.T, name string) types.EdgeID {
	t.Helper()
	id := types.NewEdgeID()
	require.NoError(t, f.edges.Save(context.Background(), &types.Edge{
		ID:       id,
		TenantID: f.tenant,
		Name:     name,
	}))
	return id
}

func createMsg(t *testing.T, entityType types.EntityType, id types.EntityID,
	version wire.ProtoVersion, payload any) *wire.UplinkMsg {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &wire.UplinkMsg{
		MsgType:    wire.MsgTypeEntityCreated,
		EntityType: entityType,
		EntityID:   id,
		Version:    version,
		Payload:    data,
	}
}

func updateMsg(t *testing.T, entityType types.EntityType, id types.EntityID,
	version wire.ProtoVersion, payload any) *wire.UplinkMsg {
	t.Helper()
	msg := createMsg(t, entityType, id, version, payload)
	msg.MsgType = wire.MsgTypeEntityUpdated
	return msg
}

func deleteMsg(entityType types.EntityType, id types.EntityID) *wire.UplinkMsg {
	return &wire.UplinkMsg{
		MsgType:    wire.MsgTypeEntityDeleted,
		EntityType: entityType,
		EntityID:   id,
		Version:    wire.Latest,
	}
}
