// Package feed delivers catalog change events to the reconciler. Every
// implementation exposes the same contract: an event channel that closes
// when the feed shuts down, with slow consumers shed by dropping events
// rather than blocking the transport.
package feed

import (
	"sync"
	"sync/atomic"

	"github.com/c360/catalogstream/catalog"
	"github.com/c360/catalogstream/errors"
)

// Feed is a source of catalog change events. Events() returns the same
// channel for the feed's lifetime; it is closed by Close.
type Feed interface {
	Events() <-chan catalog.Event
	Close() error
}

// ChannelFeed is an in-process feed fed by explicit Publish calls. It backs
// tests and embeddings where the host application already has the change
// stream in hand.
type ChannelFeed struct {
	events chan catalog.Event

	mu     sync.Mutex
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

// NewChannelFeed creates a channel feed with the given buffer size.
// A non-positive size gets a small default.
func NewChannelFeed(bufferSize int) *ChannelFeed {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &ChannelFeed{events: make(chan catalog.Event, bufferSize)}
}

// Events implements Feed
func (f *ChannelFeed) Events() <-chan catalog.Event {
	return f.events
}

// Publish offers an event to the feed. A full buffer drops the event and
// returns ErrFeedBufferFull rather than blocking the caller.
func (f *ChannelFeed) Publish(event catalog.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errors.WrapInvalid(errors.ErrFeedClosed, "ChannelFeed", "Publish", "publish")
	}

	select {
	case f.events <- event:
		f.published.Add(1)
		return nil
	default:
		f.dropped.Add(1)
		return errors.WrapTransient(errors.ErrFeedBufferFull, "ChannelFeed", "Publish", "publish")
	}
}

// Close closes the event channel. Idempotent.
func (f *ChannelFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.events)
	return nil
}

// Published returns the number of events accepted
func (f *ChannelFeed) Published() int64 { return f.published.Load() }

// Dropped returns the number of events shed on a full buffer
func (f *ChannelFeed) Dropped() int64 { return f.dropped.Load() }
