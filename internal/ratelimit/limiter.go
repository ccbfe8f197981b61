package ratelimit

import (
	"sync"
	"time"

	"github.com/romashorodok/meeting-signaling/pkg/variables"
)

type Class string

const (
	ClassSignal   Class = "signal"
	ClassReaction Class = "reaction"
	ClassChat     Class = "chat"
)

type Policy struct {
	Max    int
	Window time.Duration
}

func DefaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassSignal:   {Max: 30, Window: time.Second},
		ClassReaction: {Max: 5, Window: time.Second},
		ClassChat:     {Max: 2, Window: time.Second},
	}
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type bucketKey struct {
	connectionID string
	class        Class
}

// Limiter keeps a sliding window of admitted timestamps per connection and class.
// Classes missing from the policy table are never limited.
type Limiter struct {
	mu       sync.Mutex
	policies map[Class]Policy
	now      func() time.Time
	buckets  map[bucketKey][]time.Time
}

func (l *Limiter) Allow(connectionID string, class Class) Decision {
	policy, limited := l.policies[class]
	if !limited || policy.Max <= 0 {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := bucketKey{connectionID, class}
	windowStart := now.Add(-policy.Window)

	timestamps := l.buckets[key]
	pruned := 0
	for pruned < len(timestamps) && !timestamps[pruned].After(windowStart) {
		pruned++
	}
	timestamps = timestamps[pruned:]

	if len(timestamps) >= policy.Max {
		l.buckets[key] = timestamps
		return Decision{RetryAfter: timestamps[0].Add(policy.Window).Sub(now)}
	}

	l.buckets[key] = append(timestamps, now)
	return Decision{Allowed: true}
}

// Release drops every bucket of the connection.
func (l *Limiter) Release(connectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.buckets {
		if key.connectionID == connectionID {
			delete(l.buckets, key)
		}
	}
}

// Buckets returns the number of live buckets per connection.
func (l *Limiter) Buckets() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make(map[string]int)
	for key := range l.buckets {
		result[key.connectionID]++
	}
	return result
}

type LimiterOption struct {
	Policies map[Class]Policy
	Clock    func() time.Time
}

func New(option LimiterOption) *Limiter {
	if option.Policies == nil {
		option.Policies = DefaultPolicies()
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	return &Limiter{
		policies: option.Policies,
		now:      option.Clock,
		buckets:  make(map[bucketKey][]time.Time),
	}
}

// NewLimiter builds the limiter from RATE_* variables.
func NewLimiter() *Limiter {
	window := variables.DurationEnv(variables.RATE_WINDOW_NAME, variables.RATE_WINDOW_DEFAULT)
	return New(LimiterOption{
		Policies: map[Class]Policy{
			ClassSignal: {
				Max:    variables.IntEnv(variables.RATE_SIGNAL_MAX_NAME, variables.RATE_SIGNAL_MAX_DEFAULT),
				Window: window,
			},
			ClassReaction: {
				Max:    variables.IntEnv(variables.RATE_REACTION_MAX_NAME, variables.RATE_REACTION_MAX_DEFAULT),
				Window: window,
			},
			ClassChat: {
				Max:    variables.IntEnv(variables.RATE_CHAT_MAX_NAME, variables.RATE_CHAT_MAX_DEFAULT),
				Window: window,
			},
		},
	})
}
