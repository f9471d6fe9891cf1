package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/crm-platform/internal/clients"
	"github.com/harborline/crm-platform/internal/livecalls"
)

type memCallStore struct {
	calls       map[string]*Call
	charges     map[string]*Charge
	usage       map[uuid.UUID]float64
	usageEvents int
	failSettles int
}

func newMemCallStore() *memCallStore {
	return &memCallStore{
		calls:   map[string]*Call{},
		charges: map[string]*Charge{},
		usage:   map[uuid.UUID]float64{},
	}
}

func (m *memCallStore) Insert(_ context.Context, c *Call) (bool, error) {
	if _, ok := m.calls[c.CallID]; ok {
		return false, nil
	}
	cp := *c
	cp.Status = StatusRinging
	m.calls[c.CallID] = &cp
	return true, nil
}

func (m *memCallStore) GetByCallID(_ context.Context, callID string) (*Call, error) {
	c, ok := m.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCallStore) MarkAnswered(_ context.Context, callID, agentID string, answeredAt time.Time) (bool, error) {
	c, ok := m.calls[callID]
	if !ok || c.Status != StatusRinging {
		return false, nil
	}
	c.Status = StatusConnected
	c.AgentID = agentID
	c.AnsweredAt = &answeredAt
	return true, nil
}

// Settle mirrors the real store's all-or-nothing contract: a failure leaves
// no trace, and an already-terminal call absorbs nothing.
func (m *memCallStore) Settle(_ context.Context, st Settlement) (bool, error) {
	if m.failSettles > 0 {
		m.failSettles--
		return false, errors.New("connection reset")
	}
	c, ok := m.calls[st.CallID]
	if !ok || (c.Status != StatusRinging && c.Status != StatusConnected) {
		return false, nil
	}
	c.Status = StatusCompleted
	c.EndedAt = &st.EndedAt
	c.DurationSeconds = st.DurationSeconds
	c.BillableMinutes = st.Billing.BillableMinutes
	c.RateCents = st.Billing.RateCents
	c.ChargeCents = st.Billing.TotalCents
	c.RecordingURL = st.RecordingURL
	if st.Charge != nil {
		if _, dup := m.charges[st.Charge.CallID]; !dup {
			cp := *st.Charge
			if cp.Status == "" {
				cp.Status = "pending"
			}
			m.charges[cp.CallID] = &cp
		}
	}
	if st.UsageHours > 0 {
		m.usage[st.UsageClientID] += st.UsageHours
		m.usageEvents++
	}
	return true, nil
}

func (m *memCallStore) MarkMissed(_ context.Context, callID string, endedAt time.Time) (bool, error) {
	c, ok := m.calls[callID]
	if !ok || c.Status != StatusRinging {
		return false, nil
	}
	c.Status = StatusMissed
	c.EndedAt = &endedAt
	return true, nil
}

type memResolver struct {
	client *clients.Client
}

func (m *memResolver) Resolve(_ context.Context, phone, _ string) (*clients.Client, error) {
	if m.client == nil {
		m.client = &clients.Client{
			ID:    uuid.New(),
			Name:  "Customer " + clients.NormalizePhone(phone),
			Phone: phone,
		}
	}
	return m.client, nil
}

type memSubs struct {
	sub *clients.Subscription
}

func (m *memSubs) GetSubscription(_ context.Context, _ uuid.UUID) (*clients.Subscription, error) {
	if m.sub == nil {
		return nil, clients.ErrClientNotFound
	}
	cp := *m.sub
	return &cp, nil
}

type memLive struct {
	entries map[string]livecalls.Entry
}

func newMemLive() *memLive { return &memLive{entries: map[string]livecalls.Entry{}} }

func (m *memLive) Put(_ context.Context, e livecalls.Entry) error {
	m.entries[e.CallID] = e
	return nil
}

func (m *memLive) SetConnected(_ context.Context, callID, agentName string) error {
	if e, ok := m.entries[callID]; ok {
		e.Status = "connected"
		e.AgentName = agentName
		m.entries[callID] = e
	}
	return nil
}

func (m *memLive) Delete(_ context.Context, callID string) error {
	delete(m.entries, callID)
	return nil
}

func newTestProcessor(subs *memSubs) (*Processor, *memCallStore, *memResolver, *memLive) {
	store := newMemCallStore()
	resolver := &memResolver{}
	live := newMemLive()
	p := NewProcessor(store, resolver, subs, live, nil, nil)
	return p, store, resolver, live
}

// Unknown inbound number: a placeholder client is created, the call rings,
// and completion bills 3 minutes at the flat rate with one pending charge.
func TestNonSubscriberCallLifecycle(t *testing.T) {
	p, store, resolver, live := newTestProcessor(&memSubs{})
	ctx := context.Background()
	started := time.Now().UTC()

	require.NoError(t, p.HandleStarted(ctx, StartedEvent{
		CallID:    "call-a",
		Direction: "inbound",
		From:      "+15551230000",
		To:        "+15550001111",
		StartedAt: started,
	}))

	assert.Equal(t, "Customer 15551230000", resolver.client.Name)
	require.Contains(t, store.calls, "call-a")
	assert.Equal(t, StatusRinging, store.calls["call-a"].Status)
	require.Contains(t, live.entries, "call-a")
	assert.Equal(t, "+15551230000", live.entries["call-a"].Phone)

	require.NoError(t, p.HandleEnded(ctx, EndedEvent{
		CallID:          "call-a",
		DurationSeconds: 125,
		EndedAt:         started.Add(125 * time.Second),
	}))

	call := store.calls["call-a"]
	assert.Equal(t, StatusCompleted, call.Status)
	assert.Equal(t, 3, call.BillableMinutes)
	assert.Equal(t, int64(900), call.ChargeCents)
	assert.NotContains(t, live.entries, "call-a")

	require.Contains(t, store.charges, "call-a")
	charge := store.charges["call-a"]
	assert.Equal(t, int64(900), charge.TotalCents)
	assert.Equal(t, "pending", charge.Status)
}

// Active subscriber with covering hours: no charge, plan hours are consumed.
func TestSubscriberCallConsumesHours(t *testing.T) {
	subs := &memSubs{sub: &clients.Subscription{Status: "active", HoursRemaining: 2.0}}
	p, store, resolver, _ := newTestProcessor(subs)
	ctx := context.Background()

	require.NoError(t, p.HandleStarted(ctx, StartedEvent{
		CallID: "call-b", Direction: "inbound", From: "+15551230000", To: "+15550001111",
		StartedAt: time.Now(),
	}))
	assert.True(t, store.calls["call-b"].IsSubscriber)
	assert.Equal(t, 2.0, store.calls["call-b"].HoursRemainingStart)

	require.NoError(t, p.HandleEnded(ctx, EndedEvent{CallID: "call-b", DurationSeconds: 125, EndedAt: time.Now()}))

	call := store.calls["call-b"]
	assert.Equal(t, int64(0), call.ChargeCents)
	assert.Empty(t, store.charges)
	assert.InDelta(t, 0.05, store.usage[resolver.client.ID], 1e-9)
}

// A freshly created client carries the zero-hour default subscription row.
// Its active status alone must not make calls free: the call bills per
// minute exactly like a client with no subscription row at all.
func TestDefaultSubscriptionBillsPerCall(t *testing.T) {
	subs := &memSubs{sub: &clients.Subscription{
		Plan:   clients.DefaultPlan,
		Status: clients.DefaultSubscriptionStatus,
	}}
	p, store, resolver, _ := newTestProcessor(subs)
	ctx := context.Background()

	require.NoError(t, p.HandleStarted(ctx, StartedEvent{
		CallID: "call-h", Direction: "inbound", From: "+15551230000", To: "+15550001111",
		StartedAt: time.Now(),
	}))
	assert.False(t, store.calls["call-h"].IsSubscriber)

	require.NoError(t, p.HandleEnded(ctx, EndedEvent{CallID: "call-h", DurationSeconds: 125, EndedAt: time.Now()}))

	call := store.calls["call-h"]
	assert.Equal(t, 3, call.BillableMinutes)
	assert.Equal(t, int64(900), call.ChargeCents)
	require.Contains(t, store.charges, "call-h")
	assert.Equal(t, "pending", store.charges["call-h"].Status)
	assert.Zero(t, store.usage[resolver.client.ID], "zero-hour plan must not absorb minutes")
}

// Missed from ringing: terminal, no billing fields, live entry removed.
func TestMissedCall(t *testing.T) {
	p, store, _, live := newTestProcessor(&memSubs{})
	ctx := context.Background()

	require.NoError(t, p.HandleStarted(ctx, StartedEvent{
		CallID: "call-c", Direction: "inbound", From: "+15551230000", To: "+15550001111",
		StartedAt: time.Now(),
	}))
	require.NoError(t, p.HandleMissed(ctx, MissedEvent{CallID: "call-c", EndedAt: time.Now()}))

	call := store.calls["call-c"]
	assert.Equal(t, StatusMissed, call.Status)
	assert.Equal(t, 0, call.BillableMinutes)
	assert.Equal(t, int64(0), call.ChargeCents)
	assert.NotContains(t, live.entries, "call-c")
}

// Redelivered call.ended: exactly one completed row, one charge, and no
// double-applied hour deduction.
func TestEndedRedeliveryIsIdempotent(t *testing.T) {
	subs := &memSubs{sub: &clients.Subscription{Status: "active", HoursRemaining: 2.0}}
	p, store, _, _ := newTestProcessor(subs)
	ctx := context.Background()

	require.NoError(t, p.HandleStarted(ctx, StartedEvent{
		CallID: "call-d", Direction: "inbound", From: "+15551230000", To: "+15550001111",
		StartedAt: time.Now(),
	}))
	evt := EndedEvent{CallID: "call-d", DurationSeconds: 125, EndedAt: time.Now()}
	require.NoError(t, p.HandleEnded(ctx, evt))
	require.NoError(t, p.HandleEnded(ctx, evt))

	assert.Equal(t, 1, store.usageEvents, "hours must be deducted exactly once")
	assert.Len(t, store.calls, 1)
}

// A transient settlement failure rolls everything back, so the provider's
// retry starts from an untouched ringing call and the charge still lands.
func TestEndedRetryAfterSettleFailureStillBills(t *testing.T) {
	p, store, _, _ := newTestProcessor(&memSubs{})
	ctx := context.Background()

	require.NoError(t, p.HandleStarted(ctx, StartedEvent{
		CallID: "call-i", Direction: "inbound", From: "+15551230000", To: "+15550001111",
		StartedAt: time.Now(),
	}))

	store.failSettles = 1
	evt := EndedEvent{CallID: "call-i", DurationSeconds: 125, EndedAt: time.Now()}
	require.Error(t, p.HandleEnded(ctx, evt), "first delivery fails and must surface for retry")
	assert.Equal(t, StatusRinging, store.calls["call-i"].Status)
	assert.Empty(t, store.charges)

	require.NoError(t, p.HandleEnded(ctx, evt))
	assert.Equal(t, StatusCompleted, store.calls["call-i"].Status)
	require.Contains(t, store.charges, "call-i")
	assert.Equal(t, int64(900), store.charges["call-i"].TotalCents)
}

// Conflicting terminal events: first terminal transition wins.
func TestEndedAfterMissedIsIgnored(t *testing.T) {
	p, store, _, _ := newTestProcessor(&memSubs{})
	ctx := context.Background()

	require.NoError(t, p.HandleStarted(ctx, StartedEvent{
		CallID: "call-e", Direction: "inbound", From: "+15551230000", To: "+15550001111",
		StartedAt: time.Now(),
	}))
	require.NoError(t, p.HandleMissed(ctx, MissedEvent{CallID: "call-e", EndedAt: time.Now()}))
	require.NoError(t, p.HandleEnded(ctx, EndedEvent{CallID: "call-e", DurationSeconds: 90, EndedAt: time.Now()}))

	call := store.calls["call-e"]
	assert.Equal(t, StatusMissed, call.Status)
	assert.Equal(t, int64(0), call.ChargeCents)
	assert.Empty(t, store.charges)
}

// call.started redelivery must not duplicate the call or reset its state.
func TestStartedRedeliveryIsNoop(t *testing.T) {
	p, store, _, _ := newTestProcessor(&memSubs{})
	ctx := context.Background()

	evt := StartedEvent{
		CallID: "call-f", Direction: "inbound", From: "+15551230000", To: "+15550001111",
		StartedAt: time.Now(),
	}
	require.NoError(t, p.HandleStarted(ctx, evt))
	require.NoError(t, p.HandleAnswered(ctx, AnsweredEvent{CallID: "call-f", AgentID: "agent-1", AnsweredAt: time.Now()}))
	require.NoError(t, p.HandleStarted(ctx, evt))

	assert.Equal(t, StatusConnected, store.calls["call-f"].Status)
	assert.Len(t, store.calls, 1)
}

// The outbound customer-side number is the callee.
func TestOutboundCallResolvesCallee(t *testing.T) {
	p, _, resolver, live := newTestProcessor(&memSubs{})
	require.NoError(t, p.HandleStarted(context.Background(), StartedEvent{
		CallID: "call-g", Direction: "outbound", From: "+15550001111", To: "+15557654321",
		StartedAt: time.Now(),
	}))
	assert.Equal(t, "Customer 15557654321", resolver.client.Name)
	assert.Equal(t, "+15557654321", live.entries["call-g"].Phone)
}

func TestEndedForUnknownCallIsLoggedNotFatal(t *testing.T) {
	p, store, _, _ := newTestProcessor(&memSubs{})
	require.NoError(t, p.HandleEnded(context.Background(), EndedEvent{CallID: "ghost", DurationSeconds: 10, EndedAt: time.Now()}))
	assert.Empty(t, store.charges)
}
