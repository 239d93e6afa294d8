// Package store is the authoritative claim store. Claims live in BadgerDB
// keyed by owner; every change is pushed to subscribers as a full snapshot.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	appLog "daycal/internal/log"
	"daycal/internal/model"
)

const claimPrefix = "claim/"

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store: closed")
)

// Config holds configuration for a Store.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for tests and demos.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// GCDiscardRatio is passed to RunValueLogGC. Defaults to 0.5.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true, GCDiscardRatio: 0.5}
}

// badgerLogger routes BadgerDB's internal logging through appLog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	appLog.Error("badger", fmt.Errorf(format, args...))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	appLog.Warn("badger: " + fmt.Sprintf(format, args...))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	appLog.Debug("badger: " + fmt.Sprintf(format, args...))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	appLog.Debug("badger: " + fmt.Sprintf(format, args...))
}

// Store is safe for concurrent use. All writes and broadcasts are
// serialized by mu, so snapshots reach subscribers in revision order.
type Store struct {
	db  *badger.DB
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	closed   bool
	revision uint64
	last     time.Time
	subs     map[string]*Subscription
}

// Open opens (or creates) a store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store: path is required for persistent database")
	}
	if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
		cfg.GCDiscardRatio = 0.5
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("store: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}

	s := &Store{
		db:   db,
		cfg:  cfg,
		now:  time.Now,
		subs: make(map[string]*Subscription),
	}

	claims, err := s.list()
	if err != nil {
		db.Close()
		return nil, err
	}
	claimsGauge.Set(float64(len(claims)))
	appLog.Info("claim store opened", "path", cfg.Path, "in_memory", cfg.InMemory, "claims", len(claims))
	return s, nil
}

// Close unregisters every subscriber and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[string]*Subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
	subscribersGauge.Set(0)
	return s.db.Close()
}

func claimKey(ownerID string) []byte {
	return []byte(claimPrefix + ownerID)
}

// nextClaimedAt returns a timestamp strictly after every earlier one.
// Caller holds s.mu.
func (s *Store) nextClaimedAt() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// Put writes c, replacing any claim the same owner already holds, and
// returns the stored claim with its ClaimedAt set.
func (s *Store) Put(ctx context.Context, c model.Claim) (model.Claim, error) {
	if err := ctx.Err(); err != nil {
		return model.Claim{}, err
	}
	if err := c.Validate(); err != nil {
		return model.Claim{}, fmt.Errorf("store: invalid claim: %w", err)
	}
	c = c.WithDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Claim{}, ErrClosed
	}

	c.ClaimedAt = s.nextClaimedAt()
	data, err := json.Marshal(c)
	if err != nil {
		return model.Claim{}, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(claimKey(c.OwnerID), data)
	})
	if err != nil {
		writesTotal.WithLabelValues("put", "error").Inc()
		return model.Claim{}, fmt.Errorf("store: put %s: %w", c.OwnerID, err)
	}
	writesTotal.WithLabelValues("put", "ok").Inc()

	appLog.Debug("claim stored", "owner", c.OwnerID, "date", c.Date)
	s.broadcastLocked()
	return c, nil
}

// Delete removes ownerID's claim. Deleting a missing claim is a no-op.
func (s *Store) Delete(ctx context.Context, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ownerID == "" {
		return errors.New("store: owner id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	removed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(claimKey(ownerID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed = true
		return txn.Delete(claimKey(ownerID))
	})
	if err != nil {
		writesTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("store: delete %s: %w", ownerID, err)
	}
	if !removed {
		writesTotal.WithLabelValues("delete", "noop").Inc()
		return nil
	}
	writesTotal.WithLabelValues("delete", "ok").Inc()

	appLog.Debug("claim deleted", "owner", ownerID)
	s.broadcastLocked()
	return nil
}

// List returns every claim, ordered by owner id.
func (s *Store) List(ctx context.Context) ([]model.Claim, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Claims, nil
}

// Get returns ownerID's claim.
func (s *Store) Get(ctx context.Context, ownerID string) (model.Claim, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Claim{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Claim{}, false, ErrClosed
	}

	var (
		c     model.Claim
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(claimKey(ownerID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		})
	})
	return c, found, err
}

// Snapshot returns the current claim set with its revision.
func (s *Store) Snapshot(ctx context.Context) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Snapshot{}, ErrClosed
	}
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() (model.Snapshot, error) {
	claims, err := s.list()
	if err != nil {
		return model.Snapshot{}, err
	}
	return model.Snapshot{Revision: s.revision, Claims: claims, At: s.now().UTC()}, nil
}

func (s *Store) list() ([]model.Claim, error) {
	claims := make([]model.Claim, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(claimPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var c model.Claim
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				appLog.Error("skipping unreadable claim", err, "key", string(item.Key()))
				continue
			}
			claims = append(claims, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list claims: %w", err)
	}
	return claims, nil
}

// broadcastLocked bumps the revision and pushes the full set to every
// subscriber. Caller holds s.mu.
func (s *Store) broadcastLocked() {
	s.revision++
	snap, err := s.snapshotLocked()
	if err != nil {
		appLog.Error("snapshot for broadcast failed", err, "revision", s.revision)
		return
	}
	claimsGauge.Set(float64(len(snap.Claims)))
	for _, sub := range s.subs {
		sub.offer(snap)
	}
}

// Resync re-sends the current snapshot to every subscriber without
// changing the revision.
func (s *Store) Resync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	snap, err := s.snapshotLocked()
	if err != nil {
		return err
	}
	for _, sub := range s.subs {
		sub.offer(snap)
	}
	resyncsTotal.Inc()
	appLog.Debug("resync broadcast", "revision", snap.Revision, "subscribers", len(s.subs))
	return nil
}

// RunGC runs one pass of value log garbage collection.
func (s *Store) RunGC() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if s.cfg.InMemory {
		return nil
	}
	err := s.db.RunValueLogGC(s.cfg.GCDiscardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Subscribe registers a subscriber. The current snapshot is queued before
// Subscribe returns; later snapshots follow on every change. The
// subscription ends when ctx is done or Close is called.
func (s *Store) Subscribe(ctx context.Context) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	snap, err := s.snapshotLocked()
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		id:    uuid.NewString(),
		store: s,
		ch:    make(chan model.Snapshot, 1),
	}
	sub.offer(snap)
	s.subs[sub.id] = sub
	subscribersGauge.Set(float64(len(s.subs)))

	stop := context.AfterFunc(ctx, func() { sub.Close() })
	sub.mu.Lock()
	sub.stop = stop
	sub.mu.Unlock()

	appLog.Debug("subscriber added", "id", sub.id, "subscribers", len(s.subs))
	return sub, nil
}

func (s *Store) unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return
	}
	delete(s.subs, id)
	subscribersGauge.Set(float64(len(s.subs)))
	appLog.Debug("subscriber removed", "id", id, "subscribers", len(s.subs))
}

// Subscription delivers full snapshots. Delivery is coalescing: when the
// receiver falls behind, intermediate snapshots are dropped and only the
// newest is kept, so every received value is a complete, consistent set.
type Subscription struct {
	id    string
	store *Store
	stop  func() bool

	mu     sync.Mutex
	ch     chan model.Snapshot
	closed bool
}

// ID returns the subscriber id.
func (sub *Subscription) ID() string { return sub.id }

// Snapshots returns the delivery channel. It is closed when the
// subscription ends.
func (sub *Subscription) Snapshots() <-chan model.Snapshot { return sub.ch }

// Errors never fires for the embedded store.
func (sub *Subscription) Errors() <-chan error { return nil }

// Close ends the subscription. It is safe to call more than once.
func (sub *Subscription) Close() error {
	sub.mu.Lock()
	stop := sub.stop
	sub.mu.Unlock()
	if stop != nil {
		stop()
	}
	sub.store.unsubscribe(sub.id)
	sub.shutdown()
	return nil
}

func (sub *Subscription) shutdown() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
}

func (sub *Subscription) offer(snap model.Snapshot) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case <-sub.ch:
	default:
	}
	sub.ch <- snap.Clone()
}
