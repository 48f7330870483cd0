package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/catalogstream/catalog"
	"github.com/c360/catalogstream/errors"
	"github.com/c360/catalogstream/metric"
)

const (
	defaultKVBufferSize    = 1000
	defaultReconnectDelay  = 5 * time.Second
	kvShutdownGracePeriod  = 2 * time.Second
	dropReasonKVBufferFull = "buffer_full"
)

// KVFeedConfig configures a KVFeed
type KVFeedConfig struct {
	// BufferSize is the internal buffer between the KV watcher and the
	// event channel
	BufferSize int

	// ReconnectDelay is the interval at which a lost watcher is retried
	ReconnectDelay time.Duration
}

// KVFeed watches a JetStream key-value bucket where each key is an item ID
// and each value is the item document. Put entries at revision 1 surface as
// inserts, later puts as updates, deletes and purges as deletes.
type KVFeed struct {
	mu sync.RWMutex

	bucket     jetstream.KeyValue
	bucketName string

	watcher  jetstream.KeyWatcher
	started  bool
	stopping bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	events chan catalog.Event
	buffer chan catalog.Event

	bufferSize     int
	reconnectDelay time.Duration

	metrics *metric.Registry
	name    string
	logger  *slog.Logger
}

// NewKVFeed creates a feed over an existing KV bucket handle
func NewKVFeed(bucket jetstream.KeyValue, bucketName string, cfg KVFeedConfig,
	registry *metric.Registry, logger *slog.Logger) (*KVFeed, error) {
	if bucket == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "KVFeed", "NewKVFeed",
			"KV bucket required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultKVBufferSize
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	return &KVFeed{
		bucket:         bucket,
		bucketName:     bucketName,
		events:         make(chan catalog.Event, cfg.BufferSize),
		bufferSize:     cfg.BufferSize,
		reconnectDelay: cfg.ReconnectDelay,
		metrics:        registry,
		name:           "kv:" + bucketName,
		logger:         logger,
	}, nil
}

// Events implements Feed
func (f *KVFeed) Events() <-chan catalog.Event {
	return f.events
}

// Start begins watching the bucket
func (f *KVFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started {
		return errors.ErrAlreadyStarted
	}

	f.ctx, f.cancel = context.WithCancel(ctx)
	f.buffer = make(chan catalog.Event, f.bufferSize)

	if err := f.startWatcher(); err != nil {
		f.cancel()
		return errors.WrapTransient(err, "KVFeed", "Start",
			fmt.Sprintf("watcher start for bucket %s", f.bucketName))
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.forwardEvents()
	}()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.handleReconnections()
	}()

	f.started = true
	f.logger.Info("KV feed started", "bucket", f.bucketName)
	return nil
}

// Close stops the watcher and closes the event channel. Idempotent.
func (f *KVFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.started {
		return nil
	}
	f.stopping = true

	if f.cancel != nil {
		f.cancel()
	}
	if f.watcher != nil {
		if err := f.watcher.Stop(); err != nil {
			f.logger.Warn("KV watcher stop error", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(kvShutdownGracePeriod):
		f.logger.Warn("KV feed shutdown grace period exceeded")
	}

	close(f.events)
	f.started = false
	f.logger.Info("KV feed stopped", "bucket", f.bucketName)
	return nil
}

// startWatcher creates the KV watcher and spawns its consumer.
// Caller holds f.mu.
func (f *KVFeed) startWatcher() error {
	watcher, err := f.bucket.WatchAll(f.ctx)
	if err != nil {
		return errors.WrapFatal(err, "KVFeed", "startWatcher", "KV watcher creation")
	}
	f.watcher = watcher

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.consumeWatchUpdates(watcher)
	}()
	return nil
}

// consumeWatchUpdates drains one watcher until cancellation or channel close
func (f *KVFeed) consumeWatchUpdates(watcher jetstream.KeyWatcher) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("KV watcher panic recovered", "panic", r)
		}
	}()

	for {
		select {
		case <-f.ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				f.logger.Debug("KV watcher updates channel closed")
				if f.ctx.Err() == nil {
					f.mu.Lock()
					if f.watcher == watcher {
						f.watcher = nil // reconnection handler takes over
					}
					f.mu.Unlock()
				}
				return
			}
			if entry == nil {
				// WatchAll sends a nil marker once the initial replay is done
				continue
			}
			f.processEntry(entry)
		}
	}
}

// processEntry converts a KV entry to a catalog event and buffers it
func (f *KVFeed) processEntry(entry jetstream.KeyValueEntry) {
	event, err := f.entryToEvent(entry)
	if err != nil {
		f.logger.Warn("dropping undecodable KV entry", "key", entry.Key(), "error", err)
		f.countDrop("malformed")
		return
	}

	if f.metrics != nil {
		f.metrics.Core.EventsReceived.WithLabelValues(f.name, string(event.Type)).Inc()
	}

	select {
	case f.buffer <- event:
	case <-f.ctx.Done():
	default:
		f.logger.Warn("KV feed buffer full, dropping event", "key", entry.Key())
		f.countDrop(dropReasonKVBufferFull)
	}
}

// entryToEvent maps KV operations onto the change event taxonomy
func (f *KVFeed) entryToEvent(entry jetstream.KeyValueEntry) (catalog.Event, error) {
	switch entry.Operation() {
	case jetstream.KeyValuePut:
		var item catalog.Item
		if err := json.Unmarshal(entry.Value(), &item); err != nil {
			return catalog.Event{}, errors.WrapInvalid(err, "KVFeed", "entryToEvent",
				"item unmarshal")
		}
		if item.ID == "" {
			item.ID = entry.Key()
		}
		if err := item.Validate(); err != nil {
			return catalog.Event{}, err
		}
		if entry.Revision() == 1 {
			return catalog.NewInsert(item), nil
		}
		return catalog.NewUpdate(item), nil

	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return catalog.NewDelete(entry.Key()), nil

	default:
		return catalog.Event{}, errors.WrapInvalid(errors.ErrMalformedEvent, "KVFeed",
			"entryToEvent", "unknown KV operation")
	}
}

// forwardEvents moves buffered events onto the consumer-facing channel
func (f *KVFeed) forwardEvents() {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("KV feed forwarder panic recovered", "panic", r)
		}
	}()

	for {
		select {
		case <-f.ctx.Done():
			return
		case event, ok := <-f.buffer:
			if !ok {
				return
			}
			select {
			case f.events <- event:
			case <-f.ctx.Done():
				return
			default:
				f.logger.Warn("KV feed consumer lagging, dropping event", "item", event.ItemID())
				f.countDrop(dropReasonKVBufferFull)
			}
		}
	}
}

// handleReconnections recreates the watcher after the server drops it
func (f *KVFeed) handleReconnections() {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("KV feed reconnection handler panic recovered", "panic", r)
		}
	}()

	ticker := time.NewTicker(f.reconnectDelay)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			if f.shouldReconnect() {
				f.attemptReconnection()
			}
		}
	}
}

func (f *KVFeed) shouldReconnect() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.started && !f.stopping && f.watcher == nil
}

func (f *KVFeed) attemptReconnection() {
	f.logger.Info("attempting KV feed reconnection", "bucket", f.bucketName)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopping {
		return
	}
	if err := f.startWatcher(); err != nil {
		f.logger.Error("KV feed reconnection failed", "error", err)
		return
	}
	f.logger.Info("KV feed reconnected", "bucket", f.bucketName)
}

func (f *KVFeed) countDrop(reason string) {
	if f.metrics != nil {
		f.metrics.Core.EventsDropped.WithLabelValues(f.name, reason).Inc()
	}
}
