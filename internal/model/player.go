package model

import (
	"strings"
	"unicode/utf8"
)

// PlayerID is the public identifier of a player. For connected players it is
// the id of the connection currently controlling the record, so it changes
// when a player rejoins from a new connection.
type PlayerID string

// PlayerKey is the stable internal identity of a player record. It is assigned
// once and never changes across reconnects.
type PlayerKey string

// OfflinePlayerPrefix marks ids minted for host-created placeholder players.
// Connection ids are UUIDs, so the prefix keeps the two spaces disjoint.
const OfflinePlayerPrefix = "offline_"

const (
	// MaxNameLength is the maximum player name length in runes
	MaxNameLength = 20
	// MaxAvatarLength is the maximum avatar token length in bytes
	MaxAvatarLength = 64
	// DefaultPlayerName is used when a client sends an empty name
	DefaultPlayerName = "Player"
	// DefaultOfflinePlayerName is used for placeholders created without a name
	DefaultOfflinePlayerName = "Offline Player"
)

// Player is a participant in a room
type Player struct {
	ID       PlayerID  `json:"id"`
	Key      PlayerKey `json:"key"`
	Name     string    `json:"name"`
	Avatar   string    `json:"avatar"`
	Score    int64     `json:"score"`
	IsHost   bool      `json:"isHost"`
	IsOnline bool      `json:"isOnline"`
}

// SanitizeName trims whitespace, substitutes fallback for empty names and
// truncates to MaxNameLength runes. Long names are truncated, never rejected.
func SanitizeName(name, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}
	runes := []rune(name)
	return strings.TrimSpace(string(runes[:MaxNameLength]))
}
