// Package players resolves player ids to display names.
package players

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultCacheTTL bounds how long a display name imported by another process
// can stay stale.
const DefaultCacheTTL = time.Minute

// ErrInvalidPlayer indicates a player record without an id.
var ErrInvalidPlayer = errors.New("players: invalid player")

// ServiceConfig describes the dependencies required for display-name resolution.
// CacheTTL defaults to DefaultCacheTTL and Clock to time.Now.
type ServiceConfig struct {
	Database *gorm.DB
	CacheTTL time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

type cachedName struct {
	name      string
	expiresAt time.Time
}

// Service reads player display names, caching positive lookups.
type Service struct {
	db       *gorm.DB
	cacheTTL time.Duration
	clock    func() time.Time
	logger   *zap.Logger
	cache    sync.Map
}

// NewService constructs the player directory.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("players: database connection required")
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		cacheTTL: cacheTTL,
		clock:    clock,
		logger:   logger,
		cache:    sync.Map{},
	}, nil
}

// DisplayName returns the display name for playerID, falling back to the id itself
// when the player is unknown or the lookup fails.
func (s *Service) DisplayName(ctx context.Context, playerID string) string {
	return s.DisplayNames(ctx, []string{playerID})[normalize(playerID)]
}

// DisplayNames resolves a batch of ids. Every requested id is present in the result.
func (s *Service) DisplayNames(ctx context.Context, playerIDs []string) map[string]string {
	names := make(map[string]string, len(playerIDs))
	missing := make([]string, 0, len(playerIDs))
	now := s.clock()
	for _, raw := range playerIDs {
		playerID := normalize(raw)
		if playerID == "" {
			continue
		}
		if cached, ok := s.cache.Load(playerID); ok {
			if entry, ok := cached.(cachedName); ok && now.Before(entry.expiresAt) {
				names[playerID] = entry.name
				continue
			}
		}
		names[playerID] = playerID
		missing = append(missing, playerID)
	}
	if len(missing) == 0 {
		return names
	}

	var found []Player
	if err := s.db.WithContext(ctx).Where("player_id IN ?", missing).Find(&found).Error; err != nil {
		s.logger.Warn("player lookup failed", zap.Error(err), zap.Int("count", len(missing)))
		return names
	}
	for _, player := range found {
		name := normalize(player.DisplayName)
		if name == "" {
			name = player.PlayerID
		}
		names[player.PlayerID] = name
		s.cache.Store(player.PlayerID, cachedName{name: name, expiresAt: now.Add(s.cacheTTL)})
	}
	return names
}

// Upsert records players, replacing display names of existing ids.
func (s *Service) Upsert(ctx context.Context, records []Player) error {
	if len(records) == 0 {
		return nil
	}
	for index := range records {
		records[index].PlayerID = normalize(records[index].PlayerID)
		records[index].DisplayName = normalize(records[index].DisplayName)
		if records[index].PlayerID == "" {
			return ErrInvalidPlayer
		}
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "updated_at"}),
		}).
		Create(&records).Error
	if err != nil {
		return err
	}
	for _, record := range records {
		s.cache.Delete(record.PlayerID)
	}
	return nil
}
