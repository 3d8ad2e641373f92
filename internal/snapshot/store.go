package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ErrSnapshotNotFound is returned when no snapshot is recorded for an order.
var ErrSnapshotNotFound = errors.New("snapshot: not found")

// Snapshot is the cached pricing state of one order.
type Snapshot struct {
	OrderID          string          `json:"orderId"`
	ContentHash      string          `json:"contentHash"`
	CachedTotal      decimal.Decimal `json:"cachedTotal"`
	CachedUnits      int             `json:"cachedUnits"`
	LastCalculatedAt *time.Time      `json:"lastCalculatedAt,omitempty"`
}

// Matches reports whether the snapshot is Fresh for the given content hash.
func (s Snapshot) Matches(hash string) bool {
	return s.ContentHash != "" && s.ContentHash == hash && s.LastCalculatedAt != nil
}

// Store persists snapshots.
type Store interface {
	GetSnapshot(ctx context.Context, orderID string) (Snapshot, error)
	PutSnapshot(ctx context.Context, snap Snapshot) error
	ClearSnapshot(ctx context.Context, orderID string) error
}

// DB is the subset of pgxpool.Pool used by PostgresStore.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps snapshots in the snapshot columns of the orders table.
type PostgresStore struct {
	DB DB
}

const (
	getSnapshotSQL = `SELECT cost_content_hash, cached_total::text, cached_units, last_calculated_at
FROM orders WHERE id = $1`
	putSnapshotSQL = `UPDATE orders
SET cost_content_hash = $2, cached_total = $3::numeric, cached_units = $4, last_calculated_at = $5
WHERE id = $1`
	clearSnapshotSQL = `UPDATE orders SET cost_content_hash = NULL, last_calculated_at = NULL WHERE id = $1`
)

func (s PostgresStore) GetSnapshot(ctx context.Context, orderID string) (Snapshot, error) {
	var (
		hash, total *string
		units       *int
		at          *time.Time
	)
	err := s.DB.QueryRow(ctx, getSnapshotSQL, orderID).Scan(&hash, &total, &units, &at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, fmt.Errorf("snapshot: get %s: %w", orderID, err)
	}
	if hash == nil || *hash == "" || total == nil {
		return Snapshot{}, ErrSnapshotNotFound
	}
	amount, err := decimal.NewFromString(*total)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: order %s cached total %q: %w", orderID, *total, err)
	}
	snap := Snapshot{OrderID: orderID, ContentHash: *hash, CachedTotal: amount, LastCalculatedAt: at}
	if units != nil {
		snap.CachedUnits = *units
	}
	return snap, nil
}

func (s PostgresStore) PutSnapshot(ctx context.Context, snap Snapshot) error {
	tag, err := s.DB.Exec(ctx, putSnapshotSQL, snap.OrderID, snap.ContentHash, snap.CachedTotal.String(), snap.CachedUnits, snap.LastCalculatedAt)
	if err != nil {
		return fmt.Errorf("snapshot: put %s: %w", snap.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}

func (s PostgresStore) ClearSnapshot(ctx context.Context, orderID string) error {
	if _, err := s.DB.Exec(ctx, clearSnapshotSQL, orderID); err != nil {
		return fmt.Errorf("snapshot: clear %s: %w", orderID, err)
	}
	return nil
}

// RedisStore keeps snapshots as JSON documents in Redis.
type RedisStore struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

// DefaultKeyPrefix namespaces snapshot keys.
const DefaultKeyPrefix = "snapshot:order:"

func (s RedisStore) key(orderID string) string {
	prefix := strings.TrimSpace(s.Prefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + orderID
}

func (s RedisStore) GetSnapshot(ctx context.Context, orderID string) (Snapshot, error) {
	data, err := s.Client.Get(ctx, s.key(orderID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, fmt.Errorf("snapshot: get %s: %w", orderID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: decode %s: %w", orderID, err)
	}
	return snap, nil
}

func (s RedisStore) PutSnapshot(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.Client.Set(ctx, s.key(snap.OrderID), data, s.TTL).Err(); err != nil {
		return fmt.Errorf("snapshot: put %s: %w", snap.OrderID, err)
	}
	return nil
}

func (s RedisStore) ClearSnapshot(ctx context.Context, orderID string) error {
	if err := s.Client.Del(ctx, s.key(orderID)).Err(); err != nil {
		return fmt.Errorf("snapshot: clear %s: %w", orderID, err)
	}
	return nil
}
