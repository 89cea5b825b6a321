// Package events implements the publication of verified computation results.
// Events are fanned out to the current subscribers and are not retained:
// a subscriber only observes the events published while it is subscribed.
package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/circuit"
	"go.uber.org/atomic"
)

// ErrClosed is returned when publishing to a closed publisher.
var ErrClosed = errors.New("publisher closed")

// Kind is the kind of a result event.
type Kind string

// Event is an immutable notification of a computation result.
type Event struct {
	ID          uuid.UUID             `json:"id"`
	Seq         uint64                `json:"seq"`
	Kind        Kind                  `json:"kind"`
	Circuit     circuit.Name          `json:"circuit"`
	Offset      uint64                `json:"offset"`
	Ciphertexts []poseidon.Ciphertext `json:"ciphertexts"`
	Nonce       poseidon.Nonce        `json:"nonce"`
	At          time.Time             `json:"at"`
}

// MarshalBinary returns the callback wire layout of the event: the ciphertext
// blocks followed by the nonce.
func (ev Event) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, len(ev.Ciphertexts)*poseidon.CiphertextSize+poseidon.NonceSize)
	for _, ct := range ev.Ciphertexts {
		b = append(b, ct[:]...)
	}
	return append(b, ev.Nonce[:]...), nil
}

func (ev Event) String() string {
	return fmt.Sprintf("%s #%d %s/%d (%d ciphertexts)", ev.Kind, ev.Seq, ev.Circuit, ev.Offset, len(ev.Ciphertexts))
}

// DefaultBufferSize is the default number of events buffered per subscriber.
const DefaultBufferSize = 64

// Publisher fans events out to its subscribers. A subscriber whose buffer is
// full misses the event.
type Publisher struct {
	bufferSize int
	seq        atomic.Uint64
	now        func() time.Time

	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	closed bool
}

// NewPublisher creates a new publisher with the given per-subscriber buffer size.
func NewPublisher(bufferSize int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Publisher{bufferSize: bufferSize, now: time.Now, subs: make(map[uuid.UUID]*Subscription)}
}

// Subscription is a subscriber's view of the publisher.
type Subscription struct {
	ID uuid.UUID
	// C delivers the published events. It is closed when the subscription or the publisher is closed.
	C <-chan Event

	c       chan Event
	done    chan struct{}
	dropped atomic.Uint64
	p       *Publisher
}

// Dropped returns the number of events the subscriber missed because its buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close cancels the subscription.
func (s *Subscription) Close() {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if _, has := s.p.subs[s.ID]; has {
		delete(s.p.subs, s.ID)
		s.close()
	}
}

func (s *Subscription) close() {
	close(s.c)
	close(s.done)
}

// Subscribe registers a new subscriber. The subscription is closed when ctx is done.
func (p *Publisher) Subscribe(ctx context.Context) *Subscription {
	c := make(chan Event, p.bufferSize)
	s := &Subscription{ID: uuid.New(), C: c, c: c, done: make(chan struct{}), p: p}

	p.mu.Lock()
	if p.closed {
		s.close()
	} else {
		p.subs[s.ID] = s
	}
	p.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s
}

// Publish assigns an identifier, a sequence number and a timestamp to ev, and
// sends it to the current subscribers. It returns the published event.
func (p *Publisher) Publish(ev Event) (Event, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return Event{}, ErrClosed
	}

	ev.ID = uuid.New()
	ev.Seq = p.seq.Inc()
	ev.At = p.now()
	ev.Ciphertexts = append([]poseidon.Ciphertext(nil), ev.Ciphertexts...)

	for _, s := range p.subs {
		select {
		case s.c <- ev:
		default:
			s.dropped.Inc()
			log.Printf("[events] subscriber %s missed event %d\n", s.ID, ev.Seq)
		}
	}
	return ev, nil
}

// Subscribers returns the number of current subscribers.
func (p *Publisher) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Close closes the publisher and all subscriptions.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, s := range p.subs {
		delete(p.subs, id)
		s.close()
	}
}
