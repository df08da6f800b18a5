// Package events implements the typed lifecycle publish-subscribe bus
// shared by every component of the send pipeline.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Kind identifies the shape of an Event's payload. It is a closed set:
// every Kind has exactly one corresponding payload type, checked at
// construction time by the New* constructors rather than left to callers
// to assemble ad hoc.
type Kind int

const (
	KindSending Kind = iota
	KindSimulated
	KindSent
	KindConfirming
	KindConfirmed
	KindRetrying
	KindBlockhashExpired
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindSending:
		return "Sending"
	case KindSimulated:
		return "Simulated"
	case KindSent:
		return "Sent"
	case KindConfirming:
		return "Confirming"
	case KindConfirmed:
		return "Confirmed"
	case KindRetrying:
		return "Retrying"
	case KindBlockhashExpired:
		return "BlockhashExpired"
	case KindFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// SendingPayload accompanies KindSending.
type SendingPayload struct {
	Attempt int
}

// SimulatedPayload accompanies KindSimulated.
type SimulatedPayload struct {
	UnitsConsumed uint64
	Logs          []string
}

// SentPayload accompanies KindSent.
type SentPayload struct {
	Signature string
	Attempt   int
}

// ConfirmingPayload accompanies KindConfirming.
type ConfirmingPayload struct {
	Signature string
}

// ConfirmedPayload accompanies KindConfirmed.
type ConfirmedPayload struct {
	Signature string
	Slot      uint64
}

// RetryingPayload accompanies KindRetrying.
type RetryingPayload struct {
	Attempt    int
	MaxRetries int
	Err        error
	Delay      int64 // milliseconds
}

// BlockhashExpiredPayload accompanies KindBlockhashExpired.
type BlockhashExpiredPayload struct {
	Old string
	New string
}

// FailedPayload accompanies KindFailed.
type FailedPayload struct {
	Err error
}

// Event is one envelope published on the bus. Exactly one of the Payload
// fields is populated, matching Kind.
type Event struct {
	Kind             Kind
	Sending          *SendingPayload
	Simulated        *SimulatedPayload
	Sent             *SentPayload
	Confirming       *ConfirmingPayload
	Confirmed        *ConfirmedPayload
	Retrying         *RetryingPayload
	BlockhashExpired *BlockhashExpiredPayload
	Failed           *FailedPayload
}

func NewSending(p SendingPayload) Event                           { return Event{Kind: KindSending, Sending: &p} }
func NewSimulated(p SimulatedPayload) Event                       { return Event{Kind: KindSimulated, Simulated: &p} }
func NewSent(p SentPayload) Event                                 { return Event{Kind: KindSent, Sent: &p} }
func NewConfirming(p ConfirmingPayload) Event                     { return Event{Kind: KindConfirming, Confirming: &p} }
func NewConfirmed(p ConfirmedPayload) Event                       { return Event{Kind: KindConfirmed, Confirmed: &p} }
func NewRetrying(p RetryingPayload) Event                         { return Event{Kind: KindRetrying, Retrying: &p} }
func NewBlockhashExpired(p BlockhashExpiredPayload) Event         { return Event{Kind: KindBlockhashExpired, BlockhashExpired: &p} }
func NewFailed(p FailedPayload) Event                             { return Event{Kind: KindFailed, Failed: &p} }

// SubscriptionID identifies a live subscription, returned by Subscribe
// and accepted by Unsubscribe.
type SubscriptionID string

// Handler receives events of the Kind it was subscribed to.
type Handler func(Event)

type subscription struct {
	id      SubscriptionID
	kind    Kind
	handler Handler
}

// Bus is a typed, synchronous publish-subscribe bus. Handlers run inline
// on the publishing goroutine, matching the teacher's default delivery
// mode; callers that need async fan-out do so inside their own handler.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[Kind][]subscription
	closed        bool
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subscriptions: make(map[Kind][]subscription)}
}

// Subscribe registers handler for events of the given kind and returns a
// SubscriptionID usable with Unsubscribe.
func (b *Bus) Subscribe(kind Kind, handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := SubscriptionID(uuid.NewString())
	b.subscriptions[kind] = append(b.subscriptions[kind], subscription{id: id, kind: kind, handler: handler})
	return id
}

// Unsubscribe removes a previously registered subscription. It is a
// no-op if the ID is unknown or already removed.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for kind, subs := range b.subscriptions {
		for i, s := range subs {
			if s.id == id {
				b.subscriptions[kind] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers event to every handler subscribed to its Kind. It is
// a no-op after Close.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subscriptions[event.Kind] {
		s.handler(event)
	}
}

// Close drops every subscriber. Subsequent Publish calls are no-ops.
// Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscriptions = make(map[Kind][]subscription)
}
