package auth

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Nonce usage is stored twice: once under the composite for fast duplicate
// checks, once under a zero-padded observation index so hydration and
// pruning can range-scan by time.
const (
	seenKeyPrefix = "seen/"
	timeKeyPrefix = "ts/"
)

// LevelDBNoncePersistence is the durable NoncePersistence used by gateways
// that keep their replay state on local disk.
type LevelDBNoncePersistence struct {
	db *leveldb.DB
}

// NewLevelDBNoncePersistence opens (or creates) the nonce database at path.
func NewLevelDBNoncePersistence(path string) (*LevelDBNoncePersistence, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb nonce persistence path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb nonce path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb nonce store: %w", err)
	}
	return &LevelDBNoncePersistence{db: db}, nil
}

// Close releases the underlying LevelDB handle.
func (p *LevelDBNoncePersistence) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// EnsureNonce records a nonce usage, reporting true when the composite was
// already present. The first observation wins; duplicates do not refresh it.
func (p *LevelDBNoncePersistence) EnsureNonce(ctx context.Context, record NonceRecord) (bool, error) {
	if p == nil || p.db == nil {
		return false, fmt.Errorf("leveldb persistence not configured")
	}
	apiKey := strings.TrimSpace(record.APIKey)
	ts := strings.TrimSpace(record.Timestamp)
	nonce := strings.TrimSpace(record.Nonce)
	if apiKey == "" || ts == "" || nonce == "" {
		return false, fmt.Errorf("nonce record incomplete")
	}
	observed := record.ObservedAt.UTC()
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	composite := strings.Join([]string{apiKey, ts, nonce}, "|")

	has, err := p.db.Has([]byte(seenKeyPrefix+composite), nil)
	if err != nil {
		return false, fmt.Errorf("load nonce: %w", err)
	}
	if has {
		return true, nil
	}

	nanos := observed.UnixNano()
	batch := new(leveldb.Batch)
	batch.Put([]byte(seenKeyPrefix+composite), []byte(strconv.FormatInt(nanos, 10)))
	batch.Put([]byte(timeKey(nanos, composite)), nil)
	if err := p.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("record nonce: %w", err)
	}
	return false, nil
}

// RecentNonces returns persisted usage observed at or after cutoff.
func (p *LevelDBNoncePersistence) RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error) {
	if p == nil || p.db == nil {
		return nil, fmt.Errorf("leveldb persistence not configured")
	}
	start := []byte(timeKey(cutoff.UTC().UnixNano(), ""))
	iter := p.db.NewIterator(util.BytesPrefix([]byte(timeKeyPrefix)), nil)
	defer iter.Release()

	records := make([]NonceRecord, 0)
	for ok := iter.Seek(start); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		composite, nanos, ok := parseTimeKey(iter.Key())
		if !ok {
			continue
		}
		fields := strings.SplitN(composite, "|", 3)
		if len(fields) != 3 {
			continue
		}
		records = append(records, NonceRecord{
			APIKey:     fields[0],
			Timestamp:  fields[1],
			Nonce:      fields[2],
			ObservedAt: time.Unix(0, nanos).UTC(),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate nonce index: %w", err)
	}
	return records, nil
}

// PruneNonces deletes usage observed before cutoff from both key spaces.
func (p *LevelDBNoncePersistence) PruneNonces(ctx context.Context, cutoff time.Time) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("leveldb persistence not configured")
	}
	boundary := []byte(timeKey(cutoff.UTC().UnixNano(), ""))
	iter := p.db.NewIterator(util.BytesPrefix([]byte(timeKeyPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if bytes.Compare(iter.Key(), boundary) >= 0 {
			break
		}
		composite, _, ok := parseTimeKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(seenKeyPrefix + composite))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate nonce index: %w", err)
	}
	if batch.Len() > 0 {
		if err := p.db.Write(batch, nil); err != nil {
			return fmt.Errorf("prune nonces: %w", err)
		}
	}
	return nil
}

func timeKey(nanos int64, composite string) string {
	return fmt.Sprintf("%s%020d/%s", timeKeyPrefix, nanos, composite)
}

func parseTimeKey(key []byte) (string, int64, bool) {
	raw := strings.TrimPrefix(string(key), timeKeyPrefix)
	idx := strings.IndexByte(raw, '/')
	if idx <= 0 {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(raw[:idx], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return raw[idx+1:], nanos, true
}
