/*
Package redis serves ranked warehouse supply from Redis.

PURPOSE:
  Outbound allocation walks locations in rank order. The ranking and the
  on-hand quantities are owned by the inventory system and mirrored into
  Redis, so the engine reads them instead of keeping its own copy.

KEY LAYOUT (per SKU):
  supply:rank:{sku}  ZSET  member = location, score = rank (lowest first)
  supply:qty:{sku}   HASH  location -> on-hand quantity
  supply:zone:{sku}  HASH  location -> zone

  A ranked location missing from supply:qty is skipped. Zone is optional.

SEE ALSO:
  - lifecycle/allocation.go: SupplySource, AllocationEngine
*/
package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/warp/wms-engine/lifecycle"
)

const (
	rankKeyPrefix = "supply:rank:"
	qtyKeyPrefix  = "supply:qty:"
	zoneKeyPrefix = "supply:zone:"
)

// SupplySource implements lifecycle.SupplySource over a Redis client.
type SupplySource struct {
	client redis.Cmdable
}

var _ lifecycle.SupplySource = (*SupplySource)(nil)

func NewSupplySource(client redis.Cmdable) *SupplySource {
	return &SupplySource{client: client}
}

// Supply returns the entries for sku in rank order.
func (s *SupplySource) Supply(ctx context.Context, sku string) ([]lifecycle.SupplyEntry, error) {
	locations, err := s.client.ZRange(ctx, rankKeyPrefix+sku, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read supply rank for %s: %w", sku, err)
	}
	if len(locations) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	qtyCmd := pipe.HMGet(ctx, qtyKeyPrefix+sku, locations...)
	zoneCmd := pipe.HMGet(ctx, zoneKeyPrefix+sku, locations...)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read supply for %s: %w", sku, err)
	}

	quantities := qtyCmd.Val()
	zones := zoneCmd.Val()
	entries := make([]lifecycle.SupplyEntry, 0, len(locations))
	for i, loc := range locations {
		raw, ok := quantities[i].(string)
		if !ok {
			continue
		}
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("bad quantity %q for %s at %s: %w", raw, sku, loc, err)
		}
		zone, _ := zones[i].(string)
		entries = append(entries, lifecycle.SupplyEntry{Location: loc, Zone: zone, Quantity: qty})
	}
	return entries, nil
}

// SetSupply replaces the supply of sku. Entry order becomes the rank.
func (s *SupplySource) SetSupply(ctx context.Context, sku string, entries []lifecycle.SupplyEntry) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, rankKeyPrefix+sku, qtyKeyPrefix+sku, zoneKeyPrefix+sku)
		for i, e := range entries {
			pipe.ZAdd(ctx, rankKeyPrefix+sku, redis.Z{Score: float64(i), Member: e.Location})
			pipe.HSet(ctx, qtyKeyPrefix+sku, e.Location, e.Quantity)
			if e.Zone != "" {
				pipe.HSet(ctx, zoneKeyPrefix+sku, e.Location, e.Zone)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set supply for %s: %w", sku, err)
	}
	return nil
}
