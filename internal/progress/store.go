// Package progress is the ephemeral batch registry kept in redis.
//
// Every batch is addressed by its namespace and id. The namespace is the
// phase prefix (bt., qa., pe., seg., init., docTerms.), so ids chosen by
// different phases never share keys. Key layout under "<ns><batchId>.":
//
//	total, done, failed, cancel   counters and flag, string encoded
//	item.<unitId>                 JSON result blob of one unit
//	acct.<unitId>                 accounting guard, set once per unit
//
// All keys carry the store TTL and are refreshed on write.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/transflow/api/internal/model"
)

const (
	DefaultTTL = 24 * time.Hour

	scanCount = 200
)

var (
	ErrInvalidBatchID = errors.New("invalid batch id")
	// ErrBatchExists is returned by Seed while the batch's counters are live.
	ErrBatchExists = errors.New("batch already exists")
)

// seedScript creates the counters of a batch unless its total already exists.
var seedScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'NX', 'EX', ARGV[2]) then
  return 0
end
for i = 2, #KEYS do
  redis.call('SET', KEYS[i], '0', 'EX', ARGV[2])
end
return 1
`)

// accountScript marks a unit as accounted and bumps the matching counter.
// It returns the new counter value, or -1 when the unit was already counted.
var accountScript = redis.NewScript(`
if redis.call('SET', KEYS[1], '1', 'NX', 'EX', ARGV[1]) then
  local n = redis.call('INCR', KEYS[2])
  redis.call('EXPIRE', KEYS[2], ARGV[1])
  return n
end
return -1
`)

// Batch addresses one batch inside a namespace.
type Batch struct {
	NS model.Namespace
	ID string
}

// For returns the batch address of a unit phase.
func For(phase model.Phase, batchID string) Batch {
	return Batch{NS: phase.Namespace(), ID: batchID}
}

func (b Batch) prefix() string {
	return string(b.NS) + b.ID + "."
}

func (b Batch) key(suffix string) string {
	return b.prefix() + suffix
}

// ArtifactKey returns the redis key an artifact is stored under.
func (b Batch) ArtifactKey(name string) string {
	return b.key("item." + name)
}

// ValidBatchID reports whether id is safe to embed in a key. Dots and glob
// characters would let one batch's SCAN pattern reach another's keys.
func ValidBatchID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == ':':
		default:
			return false
		}
	}
	return true
}

// NewBatchID returns a time-ordered id of the form <unix-ms>-<8 hex chars>.
func NewBatchID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.New().String()[:8])
}

// Item is one per-unit result blob.
type Item struct {
	UnitID string
	Data   []byte
}

// Store reads and writes batch state.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a Store. A non-positive ttl falls back to DefaultTTL.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// TTL returns the expiry applied to every key.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Seed initializes the counters of a batch. A batch whose counters still
// exist is never re-seeded: its acct guards and items would survive and the
// new run could not reach total. It becomes reusable once purged or expired.
func (s *Store) Seed(ctx context.Context, b Batch, total int64) error {
	if !ValidBatchID(b.ID) {
		return ErrInvalidBatchID
	}
	keys := []string{b.key("total"), b.key("done"), b.key("failed"), b.key("cancel")}
	created, err := seedScript.Run(ctx, s.rdb, keys, total, int64(s.ttl/time.Second)).Int64()
	if err != nil {
		return fmt.Errorf("failed to seed batch %s: %w", b.ID, err)
	}
	if created == 0 {
		return ErrBatchExists
	}
	return nil
}

// Get returns the progress snapshot of a batch. exists is false when the
// batch was never seeded or has already been purged.
func (s *Store) Get(ctx context.Context, b Batch) (p model.BatchProgress, exists bool, err error) {
	p.BatchID = b.ID
	vals, err := s.rdb.MGet(ctx, b.key("total"), b.key("done"), b.key("failed"), b.key("cancel")).Result()
	if err != nil {
		return p, false, fmt.Errorf("failed to read batch %s: %w", b.ID, err)
	}
	if vals[0] == nil {
		return p, false, nil
	}
	p.Total = parseInt(vals[0])
	p.Done = parseInt(vals[1])
	p.Failed = parseInt(vals[2])
	p.Canceled = parseInt(vals[3]) == 1
	p.Percent = Percent(p.Total, p.Done, p.Failed)
	return p, true, nil
}

// Cancel raises the cancel flag. Dispatched jobs are not retracted.
func (s *Store) Cancel(ctx context.Context, b Batch) error {
	if err := s.rdb.Set(ctx, b.key("cancel"), 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cancel batch %s: %w", b.ID, err)
	}
	return nil
}

// IsCanceled reports whether the cancel flag is set.
func (s *Store) IsCanceled(ctx context.Context, b Batch) (bool, error) {
	v, err := s.rdb.Get(ctx, b.key("cancel")).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag of %s: %w", b.ID, err)
	}
	return v == "1", nil
}

// Account counts a unit once as done (ok) or failed. Redelivered jobs for a
// unit that was already counted leave the counters alone and return false.
func (s *Store) Account(ctx context.Context, b Batch, unitID string, ok bool) (bool, error) {
	counter := "failed"
	if ok {
		counter = "done"
	}
	seconds := int64(s.ttl / time.Second)
	n, err := accountScript.Run(ctx, s.rdb, []string{b.key("acct." + unitID), b.key(counter)}, seconds).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to account unit %s: %w", unitID, err)
	}
	return n >= 0, nil
}

// PutItem stores the JSON result blob of one unit.
func (s *Store) PutItem(ctx context.Context, b Batch, unitID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode item %s: %w", unitID, err)
	}
	if err := s.rdb.Set(ctx, b.key("item."+unitID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store item %s: %w", unitID, err)
	}
	return nil
}

// Items returns every per-unit result blob of a batch in no particular order.
func (s *Store) Items(ctx context.Context, b Batch) ([]Item, error) {
	itemPrefix := b.key("item.")
	keys, err := s.scan(ctx, itemPrefix+"*")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read items of %s: %w", b.ID, err)
	}

	items := make([]Item, 0, len(keys))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		items = append(items, Item{UnitID: strings.TrimPrefix(keys[i], itemPrefix), Data: []byte(str)})
	}
	return items, nil
}

// Purge deletes every key of a batch in one call and returns how many existed.
func (s *Store) Purge(ctx context.Context, b Batch) (int64, error) {
	keys, err := s.scan(ctx, b.prefix()+"*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to purge batch %s: %w", b.ID, err)
	}
	return n, nil
}

// PutArtifact stores a document-level blob such as a segment preview.
func (s *Store) PutArtifact(ctx context.Context, b Batch, name string, v interface{}) error {
	return s.PutItem(ctx, b, name, v)
}

// GetArtifact decodes a document-level blob into out. found is false when
// the key is missing or expired.
func (s *Store) GetArtifact(ctx context.Context, b Batch, name string, out interface{}) (bool, error) {
	data, err := s.rdb.Get(ctx, b.key("item."+name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read artifact %s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode artifact %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return dedupe(keys), nil
}

// SCAN may return a key more than once.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Percent is min(100, round(100*(done+failed)/total)), or 0 for an empty batch.
func Percent(total, done, failed int64) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(done+failed) * 100 / float64(total)))
	if p > 100 {
		return 100
	}
	return p
}

func parseInt(v interface{}) int64 {
	str, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
