// Package catalog loads administrative target and player data from a file.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/merigil/mythoria-sub000/internal/ledger"
	"github.com/merigil/mythoria-sub000/internal/players"
	"github.com/spf13/viper"
	"gorm.io/datatypes"
)

var errMissingPath = errors.New("catalog: file path is required")

// TargetRecord is one target as written in a catalog file.
type TargetRecord struct {
	ID                     string                 `mapstructure:"id"`
	Title                  string                 `mapstructure:"title"`
	Latitude               float64                `mapstructure:"latitude"`
	Longitude              float64                `mapstructure:"longitude"`
	ActivationRadiusMeters float64                `mapstructure:"activation_radius_m"`
	Difficulty             string                 `mapstructure:"difficulty"`
	Metadata               map[string]interface{} `mapstructure:"metadata"`
}

// PlayerRecord is one player as written in a catalog file.
type PlayerRecord struct {
	ID          string `mapstructure:"id"`
	DisplayName string `mapstructure:"display_name"`
}

// Catalog is the parsed content of a catalog file.
type Catalog struct {
	Targets []TargetRecord `mapstructure:"targets"`
	Players []PlayerRecord `mapstructure:"players"`
}

// TargetWriter persists catalog targets.
type TargetWriter interface {
	UpsertTargets(ctx context.Context, targets []ledger.Target) error
}

// PlayerWriter persists player display names.
type PlayerWriter interface {
	Upsert(ctx context.Context, records []players.Player) error
}

// Load reads a YAML, JSON or TOML catalog file. The format follows the extension.
func Load(path string) (Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Catalog{}, errMissingPath
	}
	fileViper := viper.New()
	fileViper.SetConfigFile(path)
	if err := fileViper.ReadInConfig(); err != nil {
		return Catalog{}, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var parsed Catalog
	if err := fileViper.Unmarshal(&parsed); err != nil {
		return Catalog{}, fmt.Errorf("catalog: decode %s: %w", path, err)
	}
	return parsed, nil
}

// LedgerTargets converts the catalog targets into ledger rows.
func (c Catalog) LedgerTargets() ([]ledger.Target, error) {
	targets := make([]ledger.Target, 0, len(c.Targets))
	for _, record := range c.Targets {
		metadata := "{}"
		if len(record.Metadata) > 0 {
			encoded, err := json.Marshal(record.Metadata)
			if err != nil {
				return nil, fmt.Errorf("catalog: target %s metadata: %w", record.ID, err)
			}
			metadata = string(encoded)
		}
		targets = append(targets, ledger.Target{
			TargetID:               strings.TrimSpace(record.ID),
			Title:                  strings.TrimSpace(record.Title),
			Latitude:               record.Latitude,
			Longitude:              record.Longitude,
			ActivationRadiusMeters: record.ActivationRadiusMeters,
			Difficulty:             ledger.NormalizeDifficulty(record.Difficulty),
			Metadata:               datatypes.JSON(metadata),
		})
	}
	return targets, nil
}

// PlayerRows converts the catalog players into player rows.
func (c Catalog) PlayerRows() []players.Player {
	rows := make([]players.Player, 0, len(c.Players))
	for _, record := range c.Players {
		rows = append(rows, players.Player{PlayerID: record.ID, DisplayName: record.DisplayName})
	}
	return rows
}

// Summary reports what an Apply call wrote.
type Summary struct {
	Targets int
	Players int
}

// Apply upserts the catalog through the provided writers.
func Apply(ctx context.Context, c Catalog, targetWriter TargetWriter, playerWriter PlayerWriter) (Summary, error) {
	targets, err := c.LedgerTargets()
	if err != nil {
		return Summary{}, err
	}
	if err := targetWriter.UpsertTargets(ctx, targets); err != nil {
		return Summary{}, err
	}
	rows := c.PlayerRows()
	if err := playerWriter.Upsert(ctx, rows); err != nil {
		return Summary{Targets: len(targets)}, err
	}
	return Summary{Targets: len(targets), Players: len(rows)}, nil
}
