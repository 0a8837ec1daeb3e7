// Package mirror copies the reader state and event stream into Redis so
// other services on the host can follow the reader without a bridge
// connection.
//
// Per prefix "rfid" the mirror maintains:
//
//	rfid            hash    status, reader-name, battery-level, inventorying, updated-at
//	rfid:events     stream  one entry per event, capped at Options.StreamMaxLen
//	rfid            channel the event kind is published after every write
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"

	"github.com/dotside-studios/rfid-reader-agent/rfid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix    = "rfid"
	DefaultStreamMaxLen = 1000
	defaultQueueSize    = 256
)

// Options configures a Mirror.
type Options struct {
	Addr     string
	Password string
	DB       int

	KeyPrefix    string
	StreamMaxLen int64
	QueueSize    int
	Logger       *log.Logger
}

// Keys are the Redis keys written for one prefix.
type Keys struct {
	Hash    string
	Stream  string
	Channel string
}

// KeysFor returns the keys used for prefix.
func KeysFor(prefix string) Keys {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return Keys{
		Hash:    prefix,
		Stream:  prefix + ":events",
		Channel: prefix,
	}
}

// Update is what one event turns into. State is nil for events that do not
// change the mirrored hash. Clear lists hash fields that no longer apply.
type Update struct {
	Kind  string
	State map[string]any
	Clear []string
	Entry map[string]any
}

// Sink applies updates. The Redis implementation writes each update in a
// single transaction.
type Sink interface {
	Write(ctx context.Context, keys Keys, u Update) error
	Close() error
}

// Mirror queues controller events and writes them to a Sink from its own
// goroutine, so a slow Redis never holds up event delivery to the bridge.
type Mirror struct {
	sink   Sink
	keys   Keys
	logger *log.Logger

	queue   chan Update
	done    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	dropped   int
}

// New connects to Redis and starts the mirror.
func New(ctx context.Context, opts Options) (*Mirror, error) {
	if opts.Addr == "" {
		return nil, errors.New("mirror: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	maxLen := opts.StreamMaxLen
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return NewWithSink(&redisSink{client: client, maxLen: maxLen}, opts), nil
}

// NewWithSink starts a mirror that writes to sink.
func NewWithSink(sink Sink, opts Options) *Mirror {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[mirror] ", log.LstdFlags)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	m := &Mirror{
		sink:    sink,
		keys:    KeysFor(opts.KeyPrefix),
		logger:  opts.Logger,
		queue:   make(chan Update, opts.QueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.run()
	return m
}

// Keys returns the keys the mirror writes to.
func (m *Mirror) Keys() Keys {
	return m.keys
}

// Handle queues ev. It never blocks; events are dropped while the queue is
// full. Its signature matches rfid.Listener.
func (m *Mirror) Handle(ev rfid.Event) {
	u := BuildUpdate(ev)
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.queue <- u:
	default:
		m.mu.Lock()
		m.dropped++
		n := m.dropped
		m.mu.Unlock()
		if n == 1 || n%100 == 0 {
			m.logger.Printf("Queue full, dropped %d event(s)", n)
		}
	}
}

// Dropped returns the number of events dropped because the queue was full.
func (m *Mirror) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *Mirror) run() {
	defer close(m.stopped)
	for {
		select {
		case u := <-m.queue:
			m.write(u)
		case <-m.done:
			// Drain what was queued before Close
			for {
				select {
				case u := <-m.queue:
					m.write(u)
				default:
					return
				}
			}
		}
	}
}

func (m *Mirror) write(u Update) {
	if err := m.sink.Write(context.Background(), m.keys, u); err != nil {
		m.logger.Printf("Failed to mirror %s event: %v", u.Kind, err)
	}
}

// Close writes the queued events and closes the sink.
func (m *Mirror) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		<-m.stopped
		err = m.sink.Close()
	})
	return err
}

// BuildUpdate maps an event onto the hash fields and stream entry it
// produces.
func BuildUpdate(ev rfid.Event) Update {
	u := Update{
		Kind: string(ev.Kind),
		Entry: map[string]any{
			"type":      string(ev.Kind),
			"timestamp": strconv.FormatInt(ev.Timestamp, 10),
		},
	}
	updatedAt := strconv.FormatInt(ev.Timestamp, 10)

	switch d := ev.Data.(type) {
	case rfid.ConnectionPayload:
		u.Entry["status"] = string(d.Status)
		u.State = map[string]any{
			"status":     string(d.Status),
			"updated-at": updatedAt,
		}
		if d.Status == rfid.StatusConnected {
			u.Entry["reader-name"] = d.ReaderName
			u.State["reader-name"] = d.ReaderName
			if d.BatteryLevel != nil {
				level := strconv.Itoa(*d.BatteryLevel)
				u.Entry["battery-level"] = level
				u.State["battery-level"] = level
			} else {
				u.Clear = []string{"battery-level"}
			}
		} else {
			u.State["inventorying"] = "false"
			u.Clear = []string{"reader-name", "battery-level"}
		}
	case rfid.TagPayload:
		u.Entry["epc"] = d.EPC
		u.Entry["rssi"] = strconv.Itoa(d.RSSI)
	case rfid.TriggerPayload:
		u.Entry["state"] = string(d.State)
		u.Entry["mode"] = string(d.Mode)
		u.Entry["pressing"] = strconv.FormatBool(d.IsPressing)
	case rfid.InventoryPayload:
		u.Entry["status"] = string(d.Status)
		u.State = map[string]any{
			"inventorying": strconv.FormatBool(d.IsRunning),
			"updated-at":   updatedAt,
		}
	}
	return u
}

type redisSink struct {
	client *redis.Client
	maxLen int64
}

func (s *redisSink) Write(ctx context.Context, keys Keys, u Update) error {
	pipe := s.client.TxPipeline()
	if len(u.State) > 0 {
		pipe.HSet(ctx, keys.Hash, u.State)
	}
	if len(u.Clear) > 0 {
		pipe.HDel(ctx, keys.Hash, u.Clear...)
	}
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: keys.Stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: u.Entry,
	})
	pipe.Publish(ctx, keys.Channel, u.Kind)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis transaction: %w", err)
	}
	return nil
}

func (s *redisSink) Close() error {
	return s.client.Close()
}
