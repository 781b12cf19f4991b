// Package leaderboard keeps the cumulative-score ranking in Redis.
//
// The ranking is a cache of record derived from the ledger. Scores live in a
// sorted set; a companion hash stores, per player, the sequence number of the
// moment they reached their current score so ties rank the earliest achiever
// first regardless of Redis' lexicographic member ordering. A third hash keeps
// the ledger entries credited since the last rebuild, so an entry is counted
// once whether its increment lands before or after a rebuild.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultKeyPrefix = "cacamites:leaderboard"

	opIncrement = "leaderboard.increment"
	opTopK      = "leaderboard.top_k"
	opReplace   = "leaderboard.replace"
	opPing      = "leaderboard.ping"
)

var (
	errMissingClient   = errors.New("redis client is required")
	errMissingPlayerID = errors.New("player identifier is required")
	errMissingEntryID  = errors.New("ledger entry identifier is required")
	noOpLogger         = zap.NewNop()
)

// incrementScript atomically credits one ledger entry: it bumps the player's
// score and, when the score moved or the player is new, stamps a fresh
// reached-at sequence number. An entry that was already credited leaves the
// ranking untouched and reports the current score.
var incrementScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[4], ARGV[3], ARGV[4]) == 0 then
  local current = redis.call('ZSCORE', KEYS[1], ARGV[1])
  if not current then
    return '0'
  end
  return current
end
local score = redis.call('ZINCRBY', KEYS[1], ARGV[2], ARGV[1])
if tonumber(ARGV[2]) ~= 0 or redis.call('HEXISTS', KEYS[2], ARGV[1]) == 0 then
  local sequence = redis.call('INCR', KEYS[3])
  redis.call('HSET', KEYS[2], ARGV[1], sequence)
end
return score
`)

// replaceScript rebuilds the ranking from a ledger snapshot in one step.
//
// ARGV: since, standing count, (player, total) pairs in reached-at order,
// recent count, (entry id, credit) pairs. Credits recorded at or after since
// that the snapshot does not contain were applied after the snapshot was read
// and are added on top. Everything recorded before since is dropped from the
// credited hash.
var replaceScript = redis.NewScript(`
local since = tonumber(ARGV[1])
local index = 2
local totals = {}
local order = {}
local standingCount = tonumber(ARGV[index])
index = index + 1
for i = 1, standingCount do
  local player = ARGV[index]
  if totals[player] == nil then
    order[#order + 1] = player
  end
  totals[player] = tonumber(ARGV[index + 1])
  index = index + 2
end

local credited = {}
local recent = {}
local recentCount = tonumber(ARGV[index])
index = index + 1
for i = 1, recentCount do
  recent[ARGV[index]] = true
  credited[#credited + 1] = ARGV[index]
  credited[#credited + 1] = ARGV[index + 1]
  index = index + 2
end

local late = {}
local existing = redis.call('HGETALL', KEYS[4])
for i = 1, #existing, 2 do
  local entry = existing[i]
  local recordedAt, points, player = string.match(existing[i + 1], '^(%-?%d+)|(%-?%d+)|(.*)$')
  if recordedAt and tonumber(recordedAt) >= since and not recent[entry] then
    late[#late + 1] = {entry = entry, at = tonumber(recordedAt), points = tonumber(points), player = player}
    credited[#credited + 1] = entry
    credited[#credited + 1] = existing[i + 1]
  end
end
table.sort(late, function(a, b)
  if a.at ~= b.at then
    return a.at < b.at
  end
  return a.entry < b.entry
end)

redis.call('DEL', KEYS[1], KEYS[2], KEYS[3], KEYS[4])
local ranked = {}
local sequence = 0
for _, player in ipairs(order) do
  sequence = sequence + 1
  ranked[player] = true
  redis.call('HSET', KEYS[2], player, string.format('%d', sequence))
end
for _, credit in ipairs(late) do
  if totals[credit.player] == nil then
    order[#order + 1] = credit.player
    totals[credit.player] = 0
  end
  totals[credit.player] = totals[credit.player] + credit.points
  if credit.points ~= 0 or not ranked[credit.player] then
    sequence = sequence + 1
    ranked[credit.player] = true
    redis.call('HSET', KEYS[2], credit.player, string.format('%d', sequence))
  end
end
for _, player in ipairs(order) do
  redis.call('ZADD', KEYS[1], string.format('%d', totals[player]), player)
end
if sequence > 0 then
  redis.call('SET', KEYS[3], string.format('%d', sequence))
end
for i = 1, #credited, 2 do
  redis.call('HSET', KEYS[4], credited[i], credited[i + 1])
end
return #order
`)

// UnavailableError reports that the fast store could not serve a request.
type UnavailableError struct {
	code string
	err  error
}

func (e *UnavailableError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *UnavailableError) Unwrap() error {
	return e.err
}

// Code identifies the failing operation.
func (e *UnavailableError) Code() string {
	return e.code
}

func newUnavailableError(operation, reason string, cause error) error {
	return &UnavailableError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Standing is one row of the ranking.
type Standing struct {
	PlayerID string
	Score    int64
}

// Credit is the leaderboard's view of one counted ledger entry.
type Credit struct {
	EntryID    string
	PlayerID   string
	Points     int64
	RecordedAt time.Time
}

func (c Credit) encode() string {
	return fmt.Sprintf("%d|%d|%s", c.RecordedAt.UnixMilli(), c.Points, c.PlayerID)
}

// Snapshot is a consistent read of the ledger used to rebuild the ranking.
// Standings are ordered by the time each player reached their score, earliest
// first. Recent holds every entry counted in Standings that was recorded at or
// after Since.
type Snapshot struct {
	Standings []Standing
	Recent    []Credit
	Since     time.Time
}

// StoreConfig describes the dependencies of the Redis-backed ranking.
type StoreConfig struct {
	Client    redis.UniversalClient
	KeyPrefix string
	Logger    *zap.Logger
}

// Store is the Redis-backed ranking.
type Store struct {
	client      redis.UniversalClient
	scoresKey   string
	reachedKey  string
	sequenceKey string
	creditedKey string
	logger      *zap.Logger
}

// NewStore constructs a Store over an already opened client. The caller owns the client lifecycle.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		client:      cfg.Client,
		scoresKey:   prefix + ":scores",
		reachedKey:  prefix + ":reached",
		sequenceKey: prefix + ":sequence",
		creditedKey: prefix + ":credited",
		logger:      logger,
	}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return newUnavailableError(opPing, "ping_failed", err)
	}
	return nil
}

// IncrementAndGet credits one ledger entry to its player and returns the new
// total. Crediting the same entry twice counts it once.
func (s *Store) IncrementAndGet(ctx context.Context, credit Credit) (int64, error) {
	credit.PlayerID = strings.TrimSpace(credit.PlayerID)
	credit.EntryID = strings.TrimSpace(credit.EntryID)
	if credit.PlayerID == "" {
		return 0, newUnavailableError(opIncrement, "missing_player_id", errMissingPlayerID)
	}
	if credit.EntryID == "" {
		return 0, newUnavailableError(opIncrement, "missing_entry_id", errMissingEntryID)
	}
	raw, err := incrementScript.Run(ctx, s.client,
		[]string{s.scoresKey, s.reachedKey, s.sequenceKey, s.creditedKey},
		credit.PlayerID, credit.Points, credit.EntryID, credit.encode(),
	).Result()
	if err != nil {
		s.logError(opIncrement, "script_failed", err, zap.String("player_id", credit.PlayerID), zap.String("entry_id", credit.EntryID))
		return 0, newUnavailableError(opIncrement, "script_failed", err)
	}
	score, err := parseScore(raw)
	if err != nil {
		s.logError(opIncrement, "unexpected_reply", err, zap.String("player_id", credit.PlayerID))
		return 0, newUnavailableError(opIncrement, "unexpected_reply", err)
	}
	return score, nil
}

// TopK returns the k best players, highest score first, earliest achiever first on ties.
func (s *Store) TopK(ctx context.Context, k int) ([]Standing, error) {
	if k <= 0 {
		return []Standing{}, nil
	}
	head, err := s.client.ZRevRangeWithScores(ctx, s.scoresKey, 0, int64(k-1)).Result()
	if err != nil {
		s.logError(opTopK, "range_failed", err)
		return nil, newUnavailableError(opTopK, "range_failed", err)
	}
	if len(head) == 0 {
		return []Standing{}, nil
	}

	// Members tied with the last returned score may sit beyond index k-1 in
	// Redis order, so widen the window to every member at or above that score.
	boundary := head[len(head)-1].Score
	candidates := head
	if len(head) == k {
		candidates, err = s.client.ZRevRangeByScoreWithScores(ctx, s.scoresKey, &redis.ZRangeBy{
			Max: "+inf",
			Min: strconv.FormatFloat(boundary, 'f', -1, 64),
		}).Result()
		if err != nil {
			s.logError(opTopK, "range_by_score_failed", err)
			return nil, newUnavailableError(opTopK, "range_by_score_failed", err)
		}
	}

	members := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		members = append(members, memberString(candidate.Member))
	}
	sequences, err := s.client.HMGet(ctx, s.reachedKey, members...).Result()
	if err != nil {
		s.logError(opTopK, "sequence_lookup_failed", err)
		return nil, newUnavailableError(opTopK, "sequence_lookup_failed", err)
	}

	type ranked struct {
		standing Standing
		sequence int64
	}
	rows := make([]ranked, 0, len(candidates))
	for index, candidate := range candidates {
		rows = append(rows, ranked{
			standing: Standing{PlayerID: members[index], Score: int64(math.Round(candidate.Score))},
			sequence: parseSequence(sequences[index]),
		})
	}
	slices.SortStableFunc(rows, func(a, b ranked) int {
		if a.standing.Score != b.standing.Score {
			if a.standing.Score > b.standing.Score {
				return -1
			}
			return 1
		}
		if a.sequence != b.sequence {
			if a.sequence < b.sequence {
				return -1
			}
			return 1
		}
		return strings.Compare(a.standing.PlayerID, b.standing.PlayerID)
	})
	if len(rows) > k {
		rows = rows[:k]
	}
	standings := make([]Standing, 0, len(rows))
	for _, row := range rows {
		standings = append(standings, row.standing)
	}
	return standings, nil
}

// Replace rebuilds the ranking from a ledger snapshot. Entries credited after
// the snapshot was read are kept on top of it, and snapshot entries whose
// increment has not landed yet are marked credited so that increment is a no-op.
func (s *Store) Replace(ctx context.Context, snapshot Snapshot) error {
	args := make([]interface{}, 0, 3+2*len(snapshot.Standings)+2*len(snapshot.Recent))
	args = append(args, snapshot.Since.UnixMilli(), len(snapshot.Standings))
	for _, standing := range snapshot.Standings {
		args = append(args, standing.PlayerID, standing.Score)
	}
	args = append(args, len(snapshot.Recent))
	for _, credit := range snapshot.Recent {
		args = append(args, credit.EntryID, credit.encode())
	}
	err := replaceScript.Run(ctx, s.client,
		[]string{s.scoresKey, s.reachedKey, s.sequenceKey, s.creditedKey},
		args...,
	).Err()
	if err != nil {
		s.logError(opReplace, "script_failed", err, zap.Int("players", len(snapshot.Standings)))
		return newUnavailableError(opReplace, "script_failed", err)
	}
	return nil
}

func parseScore(raw interface{}) (int64, error) {
	switch value := raw.(type) {
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, err
		}
		return int64(math.Round(parsed)), nil
	case int64:
		return value, nil
	default:
		return 0, fmt.Errorf("unexpected reply type %T", raw)
	}
}

func parseSequence(raw interface{}) int64 {
	value, ok := raw.(string)
	if !ok {
		return math.MaxInt64
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return math.MaxInt64
	}
	return parsed
}

func memberString(member interface{}) string {
	if value, ok := member.(string); ok {
		return value
	}
	return fmt.Sprint(member)
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("leaderboard store error", attrs...)
}
