package ledger

import (
	"time"

	"github.com/merigil/mythoria-sub000/internal/geofence"
	"gorm.io/datatypes"
)

// Target is a discoverable, location-bound challenge from the catalog.
type Target struct {
	TargetID               string         `gorm:"column:target_id;primaryKey;size:190;not null"`
	Title                  string         `gorm:"column:title;size:320;not null;default:''"`
	Latitude               float64        `gorm:"column:latitude;not null;index:idx_targets_lat_lon,priority:1"`
	Longitude              float64        `gorm:"column:longitude;not null;index:idx_targets_lat_lon,priority:2"`
	ActivationRadiusMeters float64        `gorm:"column:activation_radius_m;not null"`
	Difficulty             string         `gorm:"column:difficulty;size:64;not null;default:''"`
	Metadata               datatypes.JSON `gorm:"column:metadata_json;not null;default:'{}'"`
	CreatedAt              time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Target) TableName() string {
	return "targets"
}

// Location returns the fixed coordinate of the target.
func (t Target) Location() geofence.Coordinate {
	return geofence.Coordinate{Latitude: t.Latitude, Longitude: t.Longitude}
}

// Entry is one immutable record of a submission attempt, valid or not.
type Entry struct {
	EntryID           string    `gorm:"column:entry_id;primaryKey;size:64;not null"`
	PlayerID          string    `gorm:"column:player_id;size:190;not null;index:idx_ledger_player_time,priority:1"`
	TargetID          string    `gorm:"column:target_id;size:190;not null;index"`
	Score             int64     `gorm:"column:score;not null"`
	WasSignatureValid bool      `gorm:"column:was_signature_valid;not null"`
	WasProximityValid bool      `gorm:"column:was_proximity_valid;not null"`
	DistanceMeters    float64   `gorm:"column:distance_m;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;not null;index:idx_ledger_player_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "ledger_entries"
}

// Counts reports whether the entry contributes to the leaderboard.
func (e Entry) Counts() bool {
	return e.WasSignatureValid && e.WasProximityValid
}

// NearbyTarget pairs a target with its distance from the query origin.
type NearbyTarget struct {
	Target         Target
	DistanceMeters float64
}

// PlayerTotal is the ledger-derived cumulative score of one player.
type PlayerTotal struct {
	PlayerID string
	Score    int64
}

// TotalsSnapshot is the result of one ValidTotals read. Recent is a subset of
// the entries summed into Totals.
type TotalsSnapshot struct {
	Totals []PlayerTotal
	Recent []Entry
}
