package players

import (
	"strings"
	"time"
)

// Player maps a game player id to the name shown on the leaderboard.
type Player struct {
	PlayerID    string    `gorm:"column:player_id;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320;not null;default:''"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing player identities.
func (Player) TableName() string {
	return "players"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
