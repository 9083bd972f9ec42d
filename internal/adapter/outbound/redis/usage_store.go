package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
	"github.com/ganesh-swami/prvt-sub003/internal/port/outbound"
)

const usageKeyPrefix = "usage:"

// incrementScript applies one increment atomically.
//
// KEYS[1] counter hash, KEYS[2] optional token key.
// ARGV: amount, allowance ("" for none), enforce ("1"/"0"), token ttl ms, counter expiry unix ms.
// Returns {used, allowance or -1, duplicate, rejected}.
var incrementScript = redis.NewScript(`
local counter = KEYS[1]
local amount = tonumber(ARGV[1])
local allowance = ARGV[2]
local enforce = ARGV[3] == "1"
local token_ttl = tonumber(ARGV[4])
local expire_at = tonumber(ARGV[5])

if allowance ~= "" then
  local stored = redis.call("HGET", counter, "allowance")
  if not stored or tonumber(stored) < tonumber(allowance) then
    redis.call("HSET", counter, "allowance", allowance)
  end
end

local used = tonumber(redis.call("HGET", counter, "used") or "0")
local limit = tonumber(redis.call("HGET", counter, "allowance") or "-1")

-- The allowance snapshot above may have created the hash.
redis.call("PEXPIREAT", counter, expire_at)

if #KEYS > 1 and redis.call("EXISTS", KEYS[2]) == 1 then
  return {used, limit, 1, 0}
end

if enforce and limit >= 0 and used + amount > limit then
  return {used, limit, 0, 1}
end

used = redis.call("HINCRBY", counter, "used", amount)
if #KEYS > 1 then
  redis.call("SET", KEYS[2], "1", "PX", token_ttl)
end
return {used, limit, 0, 0}
`)

// usageStore implements outbound.UsageStorePort on Redis hashes.
type usageStore struct {
	client redis.UniversalClient
}

// NewUsageStore creates a new Redis usage store.
func NewUsageStore(client redis.UniversalClient) outbound.UsageStorePort {
	return &usageStore{client: client}
}

// counterKey keeps a counter and its tokens in one hash slot.
func counterKey(key outbound.UsageKey) string {
	return fmt.Sprintf("%s{%s:%s}:%d", usageKeyPrefix, key.OrgID, key.Feature, key.PeriodStart.UTC().Unix())
}

func tokenKey(key outbound.UsageKey, token string) string {
	return fmt.Sprintf("%s{%s:%s}:token:%s", usageKeyPrefix, key.OrgID, key.Feature, token)
}

func (s *usageStore) Increment(ctx context.Context, inc *outbound.UsageIncrement) (*outbound.UsageIncrementResult, error) {
	keys := []string{counterKey(inc.Key)}
	if inc.Token != "" {
		keys = append(keys, tokenKey(inc.Key, inc.Token))
	}

	allowance := ""
	if inc.Allowance != nil {
		allowance = strconv.FormatInt(*inc.Allowance, 10)
	}
	enforce := "0"
	if inc.Enforce {
		enforce = "1"
	}

	vals, err := incrementScript.Run(ctx, s.client, keys,
		inc.Amount,
		allowance,
		enforce,
		inc.TokenTTL.Milliseconds(),
		inc.ExpireAt.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("run increment script: %w", err)
	}
	if len(vals) != 4 {
		return nil, fmt.Errorf("increment script returned %d values", len(vals))
	}

	res := &outbound.UsageIncrementResult{
		Count:     vals[0],
		Duplicate: vals[2] == 1,
		Rejected:  vals[3] == 1,
	}
	if vals[1] >= 0 {
		limit := vals[1]
		res.Allowance = &limit
	}
	return res, nil
}

func (s *usageStore) Get(ctx context.Context, key outbound.UsageKey) (*model.UsageCounter, error) {
	vals, err := s.client.HMGet(ctx, counterKey(key), "used", "allowance").Result()
	if err != nil {
		return nil, fmt.Errorf("get usage counter: %w", err)
	}
	if vals[0] == nil && vals[1] == nil {
		return nil, nil
	}

	counter := &model.UsageCounter{
		OrgID:       key.OrgID,
		Feature:     key.Feature,
		PeriodStart: key.PeriodStart,
	}
	if counter.UsedCount, err = parseField(vals[0]); err != nil {
		return nil, fmt.Errorf("parse used count: %w", err)
	}
	if vals[1] != nil {
		limit, err := parseField(vals[1])
		if err != nil {
			return nil, fmt.Errorf("parse allowance: %w", err)
		}
		counter.Allowance = &limit
	}
	return counter, nil
}

var errUnexpectedField = errors.New("unexpected field type")

func parseField(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("%w %T", errUnexpectedField, v)
	}
}

// Compile-time check
var _ outbound.UsageStorePort = (*usageStore)(nil)
