package model

import (
	"bytes"
	"encoding/json"
)

const (
	// MaxSignalSize caps the relayed signaling payload in bytes
	MaxSignalSize = 10000
	// MaxTokenLength caps access tokens accepted from clients
	MaxTokenLength = 512
	// MaxFieldLength caps free-form string fields before truncation
	MaxFieldLength = 256
)

// CreateRoomCommand is the body of create_room
type CreateRoomCommand struct {
	PlayerName string `json:"playerName"`
	Avatar     string `json:"avatar"`
	Password   string `json:"password,omitempty"`
}

// CheckRoomCommand is the body of check_room
type CheckRoomCommand struct {
	RoomID string `json:"roomId"`
}

// JoinRoomCommand is the body of join_room
type JoinRoomCommand struct {
	RoomID      string `json:"roomId"`
	PlayerName  string `json:"playerName"`
	Avatar      string `json:"avatar"`
	Password    string `json:"password,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

// RejoinRoomCommand is the body of rejoin_room
type RejoinRoomCommand struct {
	RoomID      string   `json:"roomId"`
	OldPlayerID PlayerID `json:"oldPlayerId"`
	Password    string   `json:"password,omitempty"`
	AccessToken string   `json:"accessToken,omitempty"`
}

// AddOfflinePlayerCommand is the body of add_offline_player
type AddOfflinePlayerCommand struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
	Avatar     string `json:"avatar"`
}

// UpdateScoreCommand is the body of update_score
type UpdateScoreCommand struct {
	RoomID   string   `json:"roomId"`
	PlayerID PlayerID `json:"playerId"`
	NewScore *int64   `json:"newScore"`
}

// UpdatePlayerNameCommand is the body of update_player_name
type UpdatePlayerNameCommand struct {
	RoomID  string `json:"roomId"`
	NewName string `json:"newName"`
	Avatar  string `json:"avatar"`
}

// ResetGameCommand is the body of reset_game
type ResetGameCommand struct {
	RoomID string `json:"roomId"`
}

// RemovePlayerCommand is the body of remove_player
type RemovePlayerCommand struct {
	RoomID   string   `json:"roomId"`
	PlayerID PlayerID `json:"playerId"`
}

// SignalCommand is the body of an inbound signal
type SignalCommand struct {
	Target PlayerID        `json:"target"`
	Signal json.RawMessage `json:"signal"`
}

func (c CreateRoomCommand) Validate() error {
	if err := validateProfile(c.PlayerName, c.Avatar); err != nil {
		return err
	}
	return bounded("password", c.Password, MaxFieldLength)
}

func (c CheckRoomCommand) Validate() error {
	return validateRoomID(c.RoomID)
}

func (c JoinRoomCommand) Validate() error {
	if err := validateRoomID(c.RoomID); err != nil {
		return err
	}
	if err := validateProfile(c.PlayerName, c.Avatar); err != nil {
		return err
	}
	return validateCredentials(c.Password, c.AccessToken)
}

func (c RejoinRoomCommand) Validate() error {
	if err := validateRoomID(c.RoomID); err != nil {
		return err
	}
	if err := required("oldPlayerId", string(c.OldPlayerID)); err != nil {
		return err
	}
	return validateCredentials(c.Password, c.AccessToken)
}

func (c AddOfflinePlayerCommand) Validate() error {
	if err := validateRoomID(c.RoomID); err != nil {
		return err
	}
	return validateProfile(c.PlayerName, c.Avatar)
}

func (c UpdateScoreCommand) Validate() error {
	if err := validateRoomID(c.RoomID); err != nil {
		return err
	}
	if err := required("playerId", string(c.PlayerID)); err != nil {
		return err
	}
	if c.NewScore == nil {
		return InvalidInput("newScore is required")
	}
	return nil
}

func (c UpdatePlayerNameCommand) Validate() error {
	if err := validateRoomID(c.RoomID); err != nil {
		return err
	}
	return validateProfile(c.NewName, c.Avatar)
}

func (c ResetGameCommand) Validate() error {
	return validateRoomID(c.RoomID)
}

func (c RemovePlayerCommand) Validate() error {
	if err := validateRoomID(c.RoomID); err != nil {
		return err
	}
	return required("playerId", string(c.PlayerID))
}

func (c SignalCommand) Validate() error {
	if err := required("target", string(c.Target)); err != nil {
		return err
	}
	signal := bytes.TrimSpace(c.Signal)
	if len(signal) == 0 || bytes.Equal(signal, []byte("null")) {
		return InvalidInput("signal is required")
	}
	if len(signal) > MaxSignalSize {
		return InvalidInput("signal exceeds %d bytes", MaxSignalSize)
	}
	return nil
}

func validateRoomID(id string) error {
	if err := required("roomId", id); err != nil {
		return err
	}
	return bounded("roomId", id, MaxFieldLength)
}

func validateProfile(name, avatar string) error {
	if err := bounded("name", name, MaxFieldLength); err != nil {
		return err
	}
	return bounded("avatar", avatar, MaxAvatarLength)
}

func validateCredentials(password, token string) error {
	if err := bounded("password", password, MaxFieldLength); err != nil {
		return err
	}
	return bounded("accessToken", token, MaxTokenLength)
}

func required(field, value string) error {
	if value == "" {
		return InvalidInput("%s is required", field)
	}
	return nil
}

func bounded(field, value string, max int) error {
	if len(value) > max {
		return InvalidInput("%s exceeds %d bytes", field, max)
	}
	return nil
}
