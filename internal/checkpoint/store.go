package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	pebblestore "github.com/rzbill/fmq/internal/storage/pebble"
	"github.com/rzbill/fmq/pkg/fmq"
	logpkg "github.com/rzbill/fmq/pkg/log"
)

// Cursor value encoding: last_id_be8 | committed_at_ms_be8
const valueSize = 16

// ErrInvalidName is returned for an empty reader name.
var ErrInvalidName = errors.New("checkpoint: reader name must not be empty")

// Checkpoint is a stored reader cursor.
type Checkpoint struct {
	Reader      string
	LastID      int64
	CommittedAt time.Time
}

// Store keeps reader cursors for any number of queues in one Pebble database.
type Store struct {
	db     *pebblestore.DB
	logger logpkg.Logger
	now    func() time.Time

	mu sync.Mutex
}

// New returns a Store over db. A nil logger disables logging.
func New(db *pebblestore.DB, logger logpkg.Logger) *Store {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	return &Store{db: db, logger: logger.WithComponent("checkpoint"), now: time.Now}
}

// ForQueue returns the cursors of the queue file at path. The result
// implements fmq.CursorStore.
func (s *Store) ForQueue(path string) *Cursors {
	return &Cursors{store: s, queue: QueueKey(path)}
}

// Cursors are the reader cursors of a single queue.
type Cursors struct {
	store *Store
	queue string
}

var _ fmq.CursorStore = (*Cursors)(nil)

// Queue returns the normalized queue key.
func (c *Cursors) Queue() string { return c.queue }

// LoadCursor returns the last committed id of reader.
func (c *Cursors) LoadCursor(reader string) (int64, bool, error) {
	cp, ok, err := c.Get(reader)
	return cp.LastID, ok, err
}

// Get returns the full checkpoint of reader.
func (c *Cursors) Get(reader string) (Checkpoint, bool, error) {
	if reader == "" {
		return Checkpoint{}, false, ErrInvalidName
	}
	val, err := c.store.db.Get(KeyCursor(c.queue, reader))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, err
	}
	cp, err := decodeValue(reader, val)
	if err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

// SaveCursor commits id as the last processed message of reader. A commit
// that is not newer than the stored id is ignored, so replays and
// out-of-order commits never move a cursor backwards.
func (c *Cursors) SaveCursor(reader string, id int64) error {
	if reader == "" {
		return ErrInvalidName
	}
	if id < 0 || id >= fmq.MaxID {
		return fmt.Errorf("checkpoint: id %d out of range", id)
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	prev, ok, err := c.Get(reader)
	if err != nil {
		return err
	}
	if ok && !fmq.IDAfter(prev.LastID, id) {
		return nil
	}
	if err := c.store.db.Set(KeyCursor(c.queue, reader), encodeValue(id, c.store.now())); err != nil {
		return fmt.Errorf("checkpoint: save %q: %w", reader, err)
	}
	c.store.logger.Debug("cursor committed",
		logpkg.Str("queue", c.queue),
		logpkg.Str("reader", reader),
		logpkg.Int64("last_id", id))
	return nil
}

// Reset deletes the cursor of reader, so its next open starts from the
// reader's configured start position.
func (c *Cursors) Reset(reader string) error {
	if reader == "" {
		return ErrInvalidName
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.store.db.Delete(KeyCursor(c.queue, reader))
}

// List returns every cursor of the queue ordered by reader name.
func (c *Cursors) List() ([]Checkpoint, error) {
	prefix := KeyQueuePrefix(c.queue)
	var out []Checkpoint
	var decodeErr error
	err := c.store.db.ScanPrefix(prefix, func(key, value []byte) bool {
		cp, err := decodeValue(string(key[len(prefix):]), value)
		if err != nil {
			decodeErr = err
			return false
		}
		out = append(out, cp)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

func encodeValue(id int64, at time.Time) []byte {
	b := make([]byte, valueSize)
	binary.BigEndian.PutUint64(b[0:8], uint64(id))
	binary.BigEndian.PutUint64(b[8:16], uint64(at.UnixMilli()))
	return b
}

func decodeValue(reader string, b []byte) (Checkpoint, error) {
	if len(b) < valueSize {
		return Checkpoint{}, fmt.Errorf("checkpoint: cursor %q: short value (%d bytes)", reader, len(b))
	}
	return Checkpoint{
		Reader:      reader,
		LastID:      int64(binary.BigEndian.Uint64(b[0:8])),
		CommittedAt: time.UnixMilli(int64(binary.BigEndian.Uint64(b[8:16]))),
	}, nil
}
