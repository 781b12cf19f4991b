// Package ledger persists the target catalog and the append-only record of
// every submission attempt. The ledger is the source of truth for scores.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/merigil/mythoria-sub000/internal/geofence"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidTarget indicates a catalog record is missing an id or has an unusable location.
var ErrInvalidTarget = errors.New("ledger: invalid target")

var noOpLogger = zap.NewNop()

// StoreConfig describes the dependencies of the ledger store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store reads the target catalog and appends ledger entries.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStorageError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Append durably records one attempt. The id and creation time are assigned here;
// the returned Entry is what was stored.
func (s *Store) Append(ctx context.Context, entry Entry) (Entry, error) {
	if s.db == nil {
		return Entry{}, newStorageError(opAppend, "missing_database", errMissingDatabase)
	}
	entry.PlayerID = strings.TrimSpace(entry.PlayerID)
	entry.TargetID = strings.TrimSpace(entry.TargetID)
	if entry.PlayerID == "" {
		return Entry{}, newStorageError(opAppend, "missing_player_id", errMissingPlayerID)
	}
	if entry.TargetID == "" {
		return Entry{}, newStorageError(opAppend, "missing_target_id", errMissingTargetID)
	}

	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAppend, "id_generation_failed", err, zap.String("player_id", entry.PlayerID))
		return Entry{}, newStorageError(opAppend, "id_generation_failed", err)
	}
	entry.EntryID = entryID
	entry.CreatedAt = s.clock().UTC().Truncate(time.Microsecond)

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logError(opAppend, "insert_failed", err,
			zap.String("player_id", entry.PlayerID),
			zap.String("target_id", entry.TargetID))
		return Entry{}, newStorageError(opAppend, "insert_failed", err)
	}
	return entry, nil
}

// FindTarget loads one catalog target.
func (s *Store) FindTarget(ctx context.Context, targetID string) (Target, error) {
	if s.db == nil {
		return Target{}, newStorageError(opFindTarget, "missing_database", errMissingDatabase)
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return Target{}, ErrTargetNotFound
	}
	var target Target
	err := s.db.WithContext(ctx).Where("target_id = ?", targetID).Take(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Target{}, ErrTargetNotFound
	}
	if err != nil {
		s.logError(opFindTarget, "query_failed", err, zap.String("target_id", targetID))
		return Target{}, newStorageError(opFindTarget, "query_failed", err)
	}
	return target, nil
}

// FindTargetsNear returns the targets within radiusMeters of origin, nearest first.
func (s *Store) FindTargetsNear(ctx context.Context, origin geofence.Coordinate, radiusMeters float64) ([]NearbyTarget, error) {
	if s.db == nil {
		return nil, newStorageError(opFindTargetsNear, "missing_database", errMissingDatabase)
	}
	if radiusMeters < 0 {
		return nil, nil
	}

	box := geofence.BoundAround(origin, radiusMeters)
	query := s.db.WithContext(ctx).
		Where("latitude BETWEEN ? AND ?", box.MinLatitude, box.MaxLatitude)
	if !box.WrapsLongitude {
		query = query.Where("longitude BETWEEN ? AND ?", box.MinLongitude, box.MaxLongitude)
	}

	var candidates []Target
	if err := query.Find(&candidates).Error; err != nil {
		s.logError(opFindTargetsNear, "query_failed", err)
		return nil, newStorageError(opFindTargetsNear, "query_failed", err)
	}

	nearby := make([]NearbyTarget, 0, len(candidates))
	for _, candidate := range candidates {
		distance := geofence.DistanceMeters(origin, candidate.Location())
		if distance > radiusMeters {
			continue
		}
		nearby = append(nearby, NearbyTarget{Target: candidate, DistanceMeters: distance})
	}
	slices.SortFunc(nearby, func(a, b NearbyTarget) int {
		switch {
		case a.DistanceMeters < b.DistanceMeters:
			return -1
		case a.DistanceMeters > b.DistanceMeters:
			return 1
		default:
			return strings.Compare(a.Target.TargetID, b.Target.TargetID)
		}
	})
	return nearby, nil
}

// ValidTotals sums fully-valid entries per player from one consistent read.
// Players are ordered by the moment they reached their current total, earliest
// first, which is the leaderboard's tie-break order. Counted entries recorded at
// or after since, compared at millisecond precision, are returned in Recent.
func (s *Store) ValidTotals(ctx context.Context, since time.Time) (TotalsSnapshot, error) {
	if s.db == nil {
		return TotalsSnapshot{}, newStorageError(opValidTotals, "missing_database", errMissingDatabase)
	}
	rows, err := s.db.WithContext(ctx).
		Model(&Entry{}).
		Where("was_signature_valid = ? AND was_proximity_valid = ?", true, true).
		Order("created_at ASC").
		Order("entry_id ASC").
		Rows()
	if err != nil {
		s.logError(opValidTotals, "query_failed", err)
		return TotalsSnapshot{}, newStorageError(opValidTotals, "query_failed", err)
	}
	defer rows.Close()

	sinceMillis := since.UnixMilli()
	totals := make(map[string]int64)
	reachedAt := make(map[string]int)
	recent := make([]Entry, 0)
	position := 0
	for rows.Next() {
		var entry Entry
		if err := s.db.ScanRows(rows, &entry); err != nil {
			s.logError(opValidTotals, "scan_failed", err)
			return TotalsSnapshot{}, newStorageError(opValidTotals, "scan_failed", err)
		}
		position++
		if _, seen := totals[entry.PlayerID]; !seen || entry.Score != 0 {
			reachedAt[entry.PlayerID] = position
		}
		totals[entry.PlayerID] += entry.Score
		if entry.CreatedAt.UnixMilli() >= sinceMillis {
			recent = append(recent, entry)
		}
	}
	if err := rows.Err(); err != nil {
		s.logError(opValidTotals, "scan_failed", err)
		return TotalsSnapshot{}, newStorageError(opValidTotals, "scan_failed", err)
	}

	result := make([]PlayerTotal, 0, len(totals))
	for playerID, score := range totals {
		result = append(result, PlayerTotal{PlayerID: playerID, Score: score})
	}
	slices.SortFunc(result, func(a, b PlayerTotal) int {
		return reachedAt[a.PlayerID] - reachedAt[b.PlayerID]
	})
	return TotalsSnapshot{Totals: result, Recent: recent}, nil
}

// UpsertTargets loads catalog records, replacing existing targets with the same id.
// Difficulty labels are stored lowercase.
func (s *Store) UpsertTargets(ctx context.Context, targets []Target) error {
	if s.db == nil {
		return newStorageError(opUpsertTargets, "missing_database", errMissingDatabase)
	}
	if len(targets) == 0 {
		return nil
	}
	for index := range targets {
		targets[index].TargetID = strings.TrimSpace(targets[index].TargetID)
		targets[index].Difficulty = NormalizeDifficulty(targets[index].Difficulty)
		if err := validateTarget(targets[index]); err != nil {
			return err
		}
		if len(bytes.TrimSpace(targets[index].Metadata)) == 0 {
			targets[index].Metadata = datatypes.JSON("{}")
		}
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "target_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "latitude", "longitude", "activation_radius_m", "difficulty", "metadata_json", "updated_at",
			}),
		}).
		Create(&targets).Error
	if err != nil {
		s.logError(opUpsertTargets, "upsert_failed", err, zap.Int("count", len(targets)))
		return newStorageError(opUpsertTargets, "upsert_failed", err)
	}
	return nil
}

// NormalizeDifficulty returns the stored form of a difficulty label.
func NormalizeDifficulty(difficulty string) string {
	return strings.ToLower(strings.TrimSpace(difficulty))
}

func validateTarget(target Target) error {
	if target.TargetID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTarget)
	}
	if !target.Location().Valid() {
		return fmt.Errorf("%w: %s has invalid location", ErrInvalidTarget, target.TargetID)
	}
	if len(target.Metadata) > 0 && !json.Valid(target.Metadata) {
		return fmt.Errorf("%w: %s has invalid metadata", ErrInvalidTarget, target.TargetID)
	}
	if target.ActivationRadiusMeters < 0 {
		return fmt.Errorf("%w: %s has negative activation radius", ErrInvalidTarget, target.TargetID)
	}
	return nil
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
	logger := s.logger
	if logger == nil {
		logger = noOpLogger
	}
	logger.Error("ledger store error", attrs...)
}
