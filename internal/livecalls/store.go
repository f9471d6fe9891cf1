// Package livecalls keeps the ephemeral projection of in-progress calls that
// feeds the real-time queue view. An entry exists exactly while its call is
// ringing or connected; the durable record lives in Postgres, so losing this
// projection loses no financial state.
package livecalls

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "livecall:"
	activeSet  = "livecalls:active"
	ChannelKey = "livecalls:events"
)

// Entry is one in-progress call as shown in the live queue.
type Entry struct {
	CallID     string    `json:"call_id"`
	ClientName string    `json:"client_name"`
	Company    string    `json:"company,omitempty"`
	Phone      string    `json:"phone"`
	Direction  string    `json:"direction"`
	Subscriber bool      `json:"subscriber"`
	Status     string    `json:"status"`
	AgentName  string    `json:"agent_name,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// ChangeEvent is published on ChannelKey whenever the queue mutates.
type ChangeEvent struct {
	Kind   string `json:"kind"` // put|delete
	CallID string `json:"call_id"`
	Entry  *Entry `json:"entry,omitempty"`
}

// Store keeps live queue entries in Redis.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore wraps a redis client. ttl bounds how long an orphaned entry can
// linger if the terminal webhook for its call is never delivered.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if rdb == nil {
		panic("livecalls: redis client required")
	}
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func entryKey(callID string) string { return keyPrefix + callID }

// Put inserts or replaces the entry for a call and announces the change.
func (s *Store) Put(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("livecalls: marshal entry: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, entryKey(e.CallID), data, s.ttl)
	pipe.SAdd(ctx, activeSet, e.CallID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("livecalls: put entry: %w", err)
	}
	s.publish(ctx, ChangeEvent{Kind: "put", CallID: e.CallID, Entry: &e})
	return nil
}

// SetConnected flips an entry to connected and records the handling agent.
// A missing entry is not an error; the call may have ended already.
func (s *Store) SetConnected(ctx context.Context, callID, agentName string) error {
	data, err := s.rdb.Get(ctx, entryKey(callID)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("livecalls: get entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("livecalls: decode entry: %w", err)
	}
	e.Status = "connected"
	e.AgentName = agentName
	return s.Put(ctx, e)
}

// Delete removes a call from the queue when it reaches a terminal state.
func (s *Store) Delete(ctx context.Context, callID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, entryKey(callID))
	pipe.SRem(ctx, activeSet, callID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("livecalls: delete entry: %w", err)
	}
	s.publish(ctx, ChangeEvent{Kind: "delete", CallID: callID})
	return nil
}

// List returns all currently active entries. Members whose hash expired are
// pruned from the active set as a side effect.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	ids, err := s.rdb.SMembers(ctx, activeSet).Result()
	if err != nil {
		return nil, fmt.Errorf("livecalls: list active ids: %w", err)
	}
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.Get(ctx, entryKey(id)).Bytes()
		if err == redis.Nil {
			s.rdb.SRem(ctx, activeSet, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("livecalls: get entry %s: %w", id, err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("livecalls: decode entry %s: %w", id, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Subscribe returns a redis subscription for queue change events. The caller
// owns closing it.
func (s *Store) Subscribe(ctx context.Context) *redis.PubSub {
	return s.rdb.Subscribe(ctx, ChannelKey)
}

func (s *Store) publish(ctx context.Context, evt ChangeEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	// Fanout is best-effort; the durable call record is the source of truth.
	_ = s.rdb.Publish(ctx, ChannelKey, data).Err()
}
