// Package syncqueue is the write-behind path for accepted scans. A scan
// is delivered to the store fire-and-forget; when the store is
// unreachable the scan is parked in a local badger queue and retried by a
// background worker, so scanning keeps working while disconnected.
package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/routeconf/routeconf/conference"
	"github.com/routeconf/routeconf/repository"
	"github.com/routeconf/routeconf/repository/models"
)

var scanPrefix = []byte("scan:")

// Sink is where parked scans are eventually delivered. It matches
// *repository.Repository.
type Sink interface {
	AppendScan(conferenceID string, scan conference.ScanRecord) (*models.ScanRecord, *repository.RepositoryError)
}

// envelope is the stored form of a parked scan.
type envelope struct {
	ConferenceID string                `json:"conference_id"`
	Scan         conference.ScanRecord `json:"scan"`
	ParkedAt     time.Time             `json:"parked_at"`
}

// Queue is a badger-backed retry queue for scan writes.
type Queue struct {
	db       *badger.DB
	sink     Sink
	logger   *zap.Logger
	interval time.Duration

	// deliveries tracks in-flight Submit goroutines so Close does not
	// pull the database out from under one.
	deliveries sync.WaitGroup
}

// Open opens (or creates) the queue database at dir.
func Open(dir string, sink Sink, logger *zap.Logger, interval time.Duration) (*Queue, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening scan queue: %w", err)
	}
	return &Queue{
		db:       db,
		sink:     sink,
		logger:   logger,
		interval: interval,
	}, nil
}

// Close waits for in-flight deliveries and closes the underlying
// database. Stop the Run loop before calling Close.
func (q *Queue) Close() error {
	q.deliveries.Wait()
	return q.db.Close()
}

// Submit hands an accepted scan to the store without blocking the
// caller. The in-memory session count is already incremented and is never
// rolled back; a failed write only parks the scan for retry.
func (q *Queue) Submit(conferenceID string, scan conference.ScanRecord) {
	q.deliveries.Add(1)
	go func() {
		defer q.deliveries.Done()
		q.deliver(conferenceID, scan)
	}()
}

func (q *Queue) deliver(conferenceID string, scan conference.ScanRecord) {
	if _, dbErr := q.sink.AppendScan(conferenceID, scan); dbErr != nil {
		q.logger.Warn("scan write failed, parking for retry",
			zap.String("conference_id", conferenceID),
			zap.String("code", scan.NormalizedCode),
			zap.String("detail", dbErr.Detail))
		if err := q.park(conferenceID, scan); err != nil {
			q.logger.Error("failed to park scan", zap.Error(err))
		}
	}
}

func (q *Queue) park(conferenceID string, scan conference.ScanRecord) error {
	value, err := json.Marshal(envelope{
		ConferenceID: conferenceID,
		Scan:         scan,
		ParkedAt:     time.Now(),
	})
	if err != nil {
		return err
	}
	key := append(append([]byte{}, scanPrefix...), []byte(uuid.NewString())...)
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Run retries parked scans on a ticker until ctx is cancelled. A final
// flush runs on the way out so a clean shutdown drains what it can.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.flush()
			return
		case <-ticker.C:
			q.flush()
		}
	}
}

// flush attempts to deliver every parked scan, deleting the ones that
// make it through. Scans that fail again stay parked.
func (q *Queue) flush() {
	type parked struct {
		key []byte
		env envelope
	}
	var batch []parked

	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = scanPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(scanPrefix); it.ValidForPrefix(scanPrefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			var env envelope
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			})
			if err != nil {
				q.logger.Error("corrupt parked scan, skipping", zap.ByteString("key", key), zap.Error(err))
				continue
			}
			batch = append(batch, parked{key: key, env: env})
		}
		return nil
	})
	if err != nil {
		q.logger.Error("failed to read scan queue", zap.Error(err))
		return
	}

	delivered := 0
	for _, p := range batch {
		if _, dbErr := q.sink.AppendScan(p.env.ConferenceID, p.env.Scan); dbErr != nil {
			continue
		}
		err := q.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(p.key)
		})
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			q.logger.Error("failed to remove delivered scan", zap.Error(err))
			continue
		}
		delivered++
	}
	if delivered > 0 {
		q.logger.Info("flushed parked scans", zap.Int("delivered", delivered), zap.Int("remaining", len(batch)-delivered))
	}
}

// Pending returns the number of parked scans.
func (q *Queue) Pending() (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = scanPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(scanPrefix); it.ValidForPrefix(scanPrefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
