package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/db3-network/db3-go/internal/address"
)

const (
	RealtimeEventMutationAccepted = "mutation-accepted"
	realtimeEventHeartbeat        = "heartbeat"
	realtimeSourceNode            = "db3-devnode"
	defaultHeartbeatInterval      = 15 * time.Second
	defaultFeedBuffer             = 16
)

// RealtimeMessage announces one accepted mutation against a database.
type RealtimeMessage struct {
	Database   address.Address `json:"database_address"`
	EventType  string          `json:"-"`
	MutationID string          `json:"mutation_id"`
	Action     string          `json:"action"`
	Sender     string          `json:"sender"`
	Block      uint64          `json:"block"`
	Timestamp  time.Time       `json:"timestamp"`
}

// RealtimeDispatcher keeps one feed per database address. Publishing never
// blocks: a subscriber whose buffer is full misses the message.
type RealtimeDispatcher struct {
	mu     sync.Mutex
	feeds  map[address.Address]*databaseFeed
	nextID atomic.Int64
	buffer int
}

type databaseFeed struct {
	listeners map[int64]chan RealtimeMessage
	dropped   uint64
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		feeds:  make(map[address.Address]*databaseFeed),
		buffer: defaultFeedBuffer,
	}
}

// Subscribe attaches a listener to the database's feed. The listener is
// detached when ctx ends or the returned func runs, whichever is first.
// The zero address has no feed and yields a closed channel.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, database address.Address) (<-chan RealtimeMessage, func()) {
	if database.IsZero() {
		closed := make(chan RealtimeMessage)
		close(closed)
		return closed, func() {}
	}

	listenerID := d.nextID.Add(1)
	listener := make(chan RealtimeMessage, d.buffer)

	d.mu.Lock()
	feed, ok := d.feeds[database]
	if !ok {
		feed = &databaseFeed{listeners: make(map[int64]chan RealtimeMessage)}
		d.feeds[database] = feed
	}
	feed.listeners[listenerID] = listener
	d.mu.Unlock()

	detach := sync.OnceFunc(func() { d.detach(database, listenerID) })
	stop := context.AfterFunc(ctx, detach)
	return listener, func() {
		stop()
		detach()
	}
}

// Publish hands message to every listener of its database and reports how
// many listeners missed it because their buffer was full.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) (dropped int) {
	if message.Database.IsZero() || message.EventType == "" {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	feed := d.feeds[message.Database]
	if feed == nil {
		return 0
	}
	for _, listener := range feed.listeners {
		select {
		case listener <- message:
		default:
			dropped++
		}
	}
	feed.dropped += uint64(dropped)
	return dropped
}

func (d *RealtimeDispatcher) detach(database address.Address, listenerID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	feed := d.feeds[database]
	if feed == nil {
		return
	}
	delete(feed.listeners, listenerID)
	if len(feed.listeners) == 0 {
		delete(d.feeds, database)
	}
}

func (d *RealtimeDispatcher) subscriberCount(database address.Address) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if feed := d.feeds[database]; feed != nil {
		return len(feed.listeners)
	}
	return 0
}

func (d *RealtimeDispatcher) droppedCount(database address.Address) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if feed := d.feeds[database]; feed != nil {
		return feed.dropped
	}
	return 0
}
