package model

import (
	"strings"
	"time"
)

// RoomCode is the short human-readable identifier of a room
type RoomCode string

const (
	// RoomCodeLength is the length of generated room codes
	RoomCodeLength = 6
	// RoomCodeAlphabet is the characters used in room codes (avoid confusing chars)
	RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// MaxPlayersPerRoom caps the number of player records in a room
	MaxPlayersPerRoom = 20
)

// NormalizeRoomCode makes room codes case-insensitive
func NormalizeRoomCode(code string) RoomCode {
	return RoomCode(strings.ToUpper(strings.TrimSpace(code)))
}

// Room is the full snapshot stored for a room
type Room struct {
	ID           RoomCode  `json:"id"`
	Players      []Player  `json:"players"` // join order
	HostID       PlayerID  `json:"hostId"`
	PasswordHash string    `json:"passwordHash,omitempty"` // empty = public room
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsPrivate reports whether joining requires a password or access token
func (r *Room) IsPrivate() bool {
	return r.PasswordHash != ""
}

// IsFull reports whether the room has reached MaxPlayersPerRoom
func (r *Room) IsFull() bool {
	return len(r.Players) >= MaxPlayersPerRoom
}

// GetPlayer returns the player with the given public id, or nil
func (r *Room) GetPlayer(id PlayerID) *Player {
	for i := range r.Players {
		if r.Players[i].ID == id {
			return &r.Players[i]
		}
	}
	return nil
}

// GetPlayerByKey returns the player with the given stable key, or nil
func (r *Room) GetPlayerByKey(key PlayerKey) *Player {
	for i := range r.Players {
		if r.Players[i].Key == key {
			return &r.Players[i]
		}
	}
	return nil
}

// GetHost returns the current host, or nil if the room is empty
func (r *Room) GetHost() *Player {
	for i := range r.Players {
		if r.Players[i].IsHost {
			return &r.Players[i]
		}
	}
	return nil
}

// IsHost reports whether id belongs to the current host
func (r *Room) IsHost(id PlayerID) bool {
	host := r.GetHost()
	return host != nil && host.ID == id
}

// HasName reports whether any player already uses name (case-insensitive)
func (r *Room) HasName(name string) bool {
	for _, p := range r.Players {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// FirstOnline returns the earliest-joined online player, or nil
func (r *Room) FirstOnline() *Player {
	for i := range r.Players {
		if r.Players[i].IsOnline {
			return &r.Players[i]
		}
	}
	return nil
}

// SetHost moves the host flag to the player with the given id and keeps
// HostID in sync.
func (r *Room) SetHost(id PlayerID) {
	for i := range r.Players {
		r.Players[i].IsHost = r.Players[i].ID == id
	}
	r.HostID = id
}

// RemovePlayer drops the player with the given id, preserving order
func (r *Room) RemovePlayer(id PlayerID) {
	for i, p := range r.Players {
		if p.ID == id {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy of the room
func (r *Room) Clone() *Room {
	clone := *r
	clone.Players = make([]Player, len(r.Players))
	copy(clone.Players, r.Players)
	return &clone
}

// Membership is what the connection registry remembers about a connection
type Membership struct {
	RoomCode  RoomCode  `json:"roomCode"`
	PlayerKey PlayerKey `json:"playerKey"`
}

// AttemptRecord tracks failed password attempts for one origin and room
type AttemptRecord struct {
	Attempts    int       `json:"attempts"`
	LockedUntil time.Time `json:"lockedUntil,omitempty"`
}

// IsLocked reports whether the record is in lockout at now
func (a *AttemptRecord) IsLocked(now time.Time) bool {
	return !a.LockedUntil.IsZero() && now.Before(a.LockedUntil)
}
