package model

import "encoding/json"

// EventType names a message on the realtime protocol
type EventType string

const (
	// Commands sent by clients
	CmdCreateRoom       EventType = "create_room"
	CmdCheckRoom        EventType = "check_room"
	CmdJoinRoom         EventType = "join_room"
	CmdRejoinRoom       EventType = "rejoin_room"
	CmdAddOfflinePlayer EventType = "add_offline_player"
	CmdUpdateScore      EventType = "update_score"
	CmdUpdatePlayerName EventType = "update_player_name"
	CmdResetGame        EventType = "reset_game"
	CmdRemovePlayer     EventType = "remove_player"
	CmdSignal           EventType = "signal"

	// Events sent by the server
	EventRoomCreated       EventType = "room_created"
	EventRoomStatus        EventType = "room_status"
	EventRoomJoined        EventType = "room_joined"
	EventPlayerJoined      EventType = "player_joined"
	EventPlayerUpdated     EventType = "player_updated"
	EventScoreUpdated      EventType = "score_updated"
	EventPlayerNameUpdated EventType = "player_name_updated"
	EventGameReset         EventType = "game_reset"
	EventPlayerRemoved     EventType = "player_removed"
	EventHostMigrated      EventType = "host_migrated"
	EventAppError          EventType = "app_error"
	EventSignal            EventType = "signal"
)

// Envelope is the frame format in both directions
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PlayerView is the client-facing projection of a Player. The stable key
// stays server-side.
type PlayerView struct {
	ID       PlayerID `json:"id"`
	Name     string   `json:"name"`
	Avatar   string   `json:"avatar"`
	Score    int64    `json:"score"`
	IsHost   bool     `json:"isHost"`
	IsOnline bool     `json:"isOnline"`
}

// ViewOf projects a player for clients
func ViewOf(p Player) PlayerView {
	return PlayerView{
		ID:       p.ID,
		Name:     p.Name,
		Avatar:   p.Avatar,
		Score:    p.Score,
		IsHost:   p.IsHost,
		IsOnline: p.IsOnline,
	}
}

// ViewsOf projects a player list, preserving order
func ViewsOf(players []Player) []PlayerView {
	views := make([]PlayerView, len(players))
	for i, p := range players {
		views[i] = ViewOf(p)
	}
	return views
}

// RoomCreatedPayload answers create_room
type RoomCreatedPayload struct {
	RoomID      RoomCode   `json:"roomId"`
	Player      PlayerView `json:"player"`
	AccessToken string     `json:"accessToken,omitempty"`
	IsPrivate   bool       `json:"isPrivate"`
}

// RoomStatusPayload answers check_room
type RoomStatusPayload struct {
	Players   []PlayerView `json:"players"`
	IsPrivate bool         `json:"isPrivate"`
}

// RoomJoinedPayload answers join_room and rejoin_room
type RoomJoinedPayload struct {
	RoomID      RoomCode     `json:"roomId"`
	Players     []PlayerView `json:"players"`
	AccessToken string       `json:"accessToken,omitempty"`
	IsPrivate   bool         `json:"isPrivate"`
}

// PlayerUpdatedPayload carries a changed player; OldID is set on rejoin
type PlayerUpdatedPayload struct {
	PlayerView
	OldID PlayerID `json:"oldId,omitempty"`
}

// ScoreUpdatedPayload contains data for score updated events
type ScoreUpdatedPayload struct {
	PlayerID PlayerID `json:"playerId"`
	NewScore int64    `json:"newScore"`
}

// PlayerNameUpdatedPayload contains data for name updated events
type PlayerNameUpdatedPayload struct {
	PlayerID PlayerID `json:"playerId"`
	Name     string   `json:"name"`
	Avatar   string   `json:"avatar"`
}

// PlayerRemovedPayload contains data for player removed events
type PlayerRemovedPayload struct {
	PlayerID PlayerID `json:"playerId"`
}

// HostMigratedPayload contains data for host migrated events
type HostMigratedPayload struct {
	NewHostID PlayerID `json:"newHostId"`
}

// AppErrorPayload is the single unicast reply to a failed command
type AppErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// SignalPayload is relayed to the signal target
type SignalPayload struct {
	Sender PlayerID        `json:"sender"`
	Signal json.RawMessage `json:"signal"`
}

// GameResetPayload is the empty body of game_reset
type GameResetPayload struct{}
