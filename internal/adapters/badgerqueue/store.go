// Package badgerqueue provides a durable ChunkQueue backed by BadgerDB.
//
// All devices share one database. Each device is an append-only log with
// head and tail sequence counters:
//
//	chunk:msg:{device}:{seq}  chunk bytes
//	chunk:head:{device}       first undelivered sequence
//	chunk:tail:{device}       next sequence to assign
package badgerqueue

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/bft-labs/chunkship/internal/domain"
	"github.com/bft-labs/chunkship/internal/ports"
)

const (
	msgPrefix  = "chunk:msg:"
	headPrefix = "chunk:head:"
	tailPrefix = "chunk:tail:"
)

// Store owns the Badger database and the per-device queues.
type Store struct {
	db        *badger.DB
	maxChunks int

	mu     sync.Mutex
	queues map[string]*Queue
}

// Open opens (or creates) the database in dir. maxChunks bounds every device
// queue; zero is unbounded.
func Open(dir string, maxChunks int, logger ports.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", dir, err)
	}
	return &Store{
		db:        db,
		maxChunks: maxChunks,
		queues:    make(map[string]*Queue),
	}, nil
}

// QueueFor returns the queue of deviceID, loading its counters on first use.
func (s *Store) QueueFor(deviceID string) (ports.ChunkQueue, error) {
	if deviceID == "" {
		return nil, domain.ErrInvalidDevice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queues[deviceID]; ok {
		return q, nil
	}

	q := &Queue{db: s.db, device: deviceID, maxChunks: s.maxChunks}
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if q.head, err = readCounter(txn, headPrefix+deviceID); err != nil {
			return err
		}
		q.tail, err = readCounter(txn, tailPrefix+deviceID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load queue %s: %w", deviceID, err)
	}
	s.queues[deviceID] = q
	return q, nil
}

// Devices lists the devices that have undelivered chunks, in key order.
func (s *Store) Devices() ([]string, error) {
	var devices []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(tailPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			device := string(item.Key()[len(tailPrefix):])

			var tail uint64
			if err := item.Value(func(val []byte) error {
				tail = bytesToUint64(val)
				return nil
			}); err != nil {
				return err
			}
			head, err := readCounter(txn, headPrefix+device)
			if err != nil {
				return err
			}
			if tail > head {
				devices = append(devices, device)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Queue is the durable FIFO of one device. The head and tail counters are
// cached; mu serializes every transaction touching this device's keys.
type Queue struct {
	db        *badger.DB
	device    string
	maxChunks int

	mu   sync.Mutex
	head uint64
	tail uint64
}

// Count returns the number of queued chunks.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.tail - q.head)
}

// Add appends chunks in a single transaction.
func (q *Queue) Add(chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxChunks > 0 && int(q.tail-q.head)+len(chunks) > q.maxChunks {
		return domain.ErrQueueFull
	}

	tail := q.tail
	err := q.db.Update(func(txn *badger.Txn) error {
		for _, c := range chunks {
			if err := txn.Set(q.msgKey(tail), c); err != nil {
				return err
			}
			tail++
		}
		return txn.Set([]byte(tailPrefix+q.device), uint64ToBytes(tail))
	})
	if err != nil {
		return fmt.Errorf("add chunks: %w", err)
	}
	q.tail = tail
	return nil
}

// Peek returns up to n chunks from the head without removing them.
func (q *Queue) Peek(n int) ([]domain.Chunk, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	end := q.head + uint64(max(n, 0))
	if end > q.tail {
		end = q.tail
	}
	if end == q.head {
		return nil, nil
	}

	out := make([]domain.Chunk, 0, end-q.head)
	err := q.db.View(func(txn *badger.Txn) error {
		for seq := q.head; seq < end; seq++ {
			item, err := txn.Get(q.msgKey(seq))
			if err != nil {
				return fmt.Errorf("chunk %d: %w", seq, err)
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Drop removes up to n chunks from the head in a single transaction.
func (q *Queue) Drop(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	end := q.head + uint64(max(n, 0))
	if end > q.tail {
		end = q.tail
	}
	if end == q.head {
		return nil
	}

	err := q.db.Update(func(txn *badger.Txn) error {
		for seq := q.head; seq < end; seq++ {
			if err := txn.Delete(q.msgKey(seq)); err != nil {
				return err
			}
		}
		return txn.Set([]byte(headPrefix+q.device), uint64ToBytes(end))
	})
	if err != nil {
		return fmt.Errorf("drop chunks: %w", err)
	}
	q.head = end
	return nil
}

func (q *Queue) msgKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", msgPrefix, q.device, seq))
}

func readCounter(txn *badger.Txn, key string) (uint64, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		v = bytesToUint64(val)
		return nil
	})
	return v, err
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// badgerLogger routes Badger's internal logging to ports.Logger.
// Badger's info output is chatty, so it is demoted to debug.
type badgerLogger struct {
	logger ports.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error("badger: " + trimNewline(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn("badger: " + trimNewline(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug("badger: " + trimNewline(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug("badger: " + trimNewline(fmt.Sprintf(format, args...)))
}

func trimNewline(s string) string {
	for len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return s
}
