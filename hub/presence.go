package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// EventUserOnline is emitted when a user's first session connects.
	EventUserOnline EventType = "user_online"
	// EventUserOffline is emitted when a user's last session disconnects.
	EventUserOffline EventType = "user_offline"
)

// EventType identifies presence updates.
type EventType string

// Event carries presence updates for API consumers.
type Event struct {
	Type   EventType
	UserID string
}

const (
	presenceKeyPrefix = "farmchat:presence:"
	presenceTTL       = 90 * time.Second
	redisOpTimeout    = 2 * time.Second
)

// Presence tracks which users currently hold at least one live session.
// When a Redis client is configured the online set is mirrored into
// volatile keys so other marketplace services can read it; Redis
// failures degrade to local-only tracking.
type Presence struct {
	rdb *redis.Client

	mu       sync.RWMutex
	sessions map[string]int
	lastSeen map[string]time.Time
	closed   bool

	events chan Event

	stopOnce sync.Once
}

// NewPresence creates a tracker. rdb may be nil.
func NewPresence(rdb *redis.Client) *Presence {
	return &Presence{
		rdb:      rdb,
		sessions: make(map[string]int),
		lastSeen: make(map[string]time.Time),
		events:   make(chan Event, 128),
	}
}

// Events returns the presence update stream. Events are dropped, not
// blocked on, when the consumer lags.
func (p *Presence) Events() <-chan Event {
	return p.events
}

// Connected records one more live session for a user.
func (p *Presence) Connected(userID string) {
	p.mu.Lock()
	p.sessions[userID]++
	first := p.sessions[userID] == 1
	p.lastSeen[userID] = time.Now()
	p.mu.Unlock()

	if first {
		p.publish(Event{Type: EventUserOnline, UserID: userID})
	}
	p.mirrorOnline(userID)
}

// Disconnected records one session teardown for a user.
func (p *Presence) Disconnected(userID string) {
	p.mu.Lock()
	count, ok := p.sessions[userID]
	if !ok {
		p.mu.Unlock()
		return
	}
	count--
	last := count <= 0
	if last {
		delete(p.sessions, userID)
	} else {
		p.sessions[userID] = count
	}
	p.lastSeen[userID] = time.Now()
	p.mu.Unlock()

	if last {
		p.publish(Event{Type: EventUserOffline, UserID: userID})
		p.mirrorOffline(userID)
	}
}

// Touch refreshes liveness for a user, extending the Redis TTL.
func (p *Presence) Touch(userID string) {
	p.mu.Lock()
	_, online := p.sessions[userID]
	if online {
		p.lastSeen[userID] = time.Now()
	}
	p.mu.Unlock()

	if online {
		p.mirrorOnline(userID)
	}
}

// IsOnline reports whether a user has at least one live session.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessions[userID] > 0
}

// Online returns the sorted set of online user IDs.
func (p *Presence) Online() []string {
	p.mu.RLock()
	online := make([]string, 0, len(p.sessions))
	for userID := range p.sessions {
		online = append(online, userID)
	}
	p.mu.RUnlock()

	sort.Strings(online)
	return online
}

// LastSeen returns the most recent activity time for a user, if known.
func (p *Presence) LastSeen(userID string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen, ok := p.lastSeen[userID]
	return seen, ok
}

// Close stops the event stream. Updates after Close still maintain the
// online set but emit no events.
func (p *Presence) Close() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.events)
	})
}

func (p *Presence) publish(event Event) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return
	}

	select {
	case p.events <- event:
	default:
	}
}

func (p *Presence) mirrorOnline(userID string) {
	if p.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	_ = p.rdb.Set(ctx, presenceKeyPrefix+userID, "1", presenceTTL).Err()
}

func (p *Presence) mirrorOffline(userID string) {
	if p.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	_ = p.rdb.Del(ctx, presenceKeyPrefix+userID).Err()
}
