package presence

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mcoot/scoreroom/internal/dependencies/clock"
	"github.com/mcoot/scoreroom/internal/dependencies/random"
	"github.com/mcoot/scoreroom/internal/model"
	"github.com/mcoot/scoreroom/internal/services/access"
	"github.com/mcoot/scoreroom/internal/services/attempts"
	"github.com/mcoot/scoreroom/internal/storage"
)

const (
	// PlayerKeyPrefix prefixes stable player keys
	PlayerKeyPrefix = "pk_"

	// maxCodeAttempts bounds room code generation when codes collide
	maxCodeAttempts = 10
)

// errUnchanged aborts a mutation that turned out to be a no-op
var errUnchanged = errors.New("room unchanged")

// Caller identifies the connection issuing a command
type Caller struct {
	ConnID string
	// Origin keys password attempt limiting (client IP)
	Origin string
}

// Admission is the outcome of creating, joining or rejoining a room
type Admission struct {
	Room   *model.Room
	Player model.Player
	// OldID is the id the player had before a rejoin
	OldID model.PlayerID
	// Token is set for private rooms only
	Token string
	// Left describes the room the connection was detached from, if it was
	// in a different one before.
	Left *Departure
}

// Departure is the outcome of a connection going offline in a room
type Departure struct {
	Room   model.RoomCode
	Player model.Player
	// NewHost is set when host privileges migrated
	NewHost model.PlayerID
}

// Coordinator owns every room-mutating operation. All mutations go through
// RoomStore.MutateRoom so concurrent commands against one room never lose
// writes.
type Coordinator struct {
	storage  storage.Storage
	access   *access.Service
	attempts *attempts.Limiter
	clock    clock.Clock
	random   random.Random
	logger   *slog.Logger
}

// NewCoordinator creates a new presence Coordinator
func NewCoordinator(
	storage storage.Storage,
	access *access.Service,
	attempts *attempts.Limiter,
	clock clock.Clock,
	random random.Random,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		storage:  storage,
		access:   access,
		attempts: attempts,
		clock:    clock,
		random:   random,
		logger:   logger.With(slog.String("component", "presence")),
	}
}

// CreateRoom creates a room with the caller as its online host. A non-empty
// password makes the room private.
func (c *Coordinator) CreateRoom(ctx context.Context, caller Caller, name, avatar, password string) (*Admission, error) {
	var hash string
	if password != "" {
		if err := access.ValidatePassword(password); err != nil {
			return nil, err
		}
		h, err := c.access.HashPassword(password)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	now := c.clock.Now()
	host := model.Player{
		ID:       model.PlayerID(caller.ConnID),
		Key:      model.PlayerKey(c.random.ID(PlayerKeyPrefix)),
		Name:     model.SanitizeName(name, model.DefaultPlayerName),
		Avatar:   avatar,
		IsHost:   true,
		IsOnline: true,
	}
	room := &model.Room{
		Players:      []model.Player{host},
		HostID:       host.ID,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created := false
	for i := 0; i < maxCodeAttempts; i++ {
		room.ID = model.RoomCode(c.random.String(model.RoomCodeLength, model.RoomCodeAlphabet))
		err := c.storage.CreateRoom(ctx, room)
		if errors.Is(err, model.ErrRoomExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		created = true
		break
	}
	if !created {
		return nil, model.ErrRoomExists
	}

	left := c.leavePrevious(ctx, caller.ConnID, room.ID)
	if err := c.storage.SetMembership(ctx, caller.ConnID, model.Membership{RoomCode: room.ID, PlayerKey: host.Key}); err != nil {
		return nil, err
	}

	c.logger.Info("room created",
		slog.String("room", string(room.ID)),
		slog.String("conn_id", caller.ConnID),
		slog.Bool("private", room.IsPrivate()),
	)

	return &Admission{
		Room:   room,
		Player: host,
		Token:  c.tokenFor(room, host.ID),
		Left:   left,
	}, nil
}

// CheckRoom returns a read-only snapshot of a room. It does not refresh the
// room's expiry.
func (c *Coordinator) CheckRoom(ctx context.Context, code model.RoomCode) (*model.Room, error) {
	return c.storage.GetRoom(ctx, code)
}

// JoinRoom adds the caller to a room as a new online player. Private rooms
// need a valid access token for the room or the correct password.
func (c *Coordinator) JoinRoom(ctx context.Context, caller Caller, code model.RoomCode, name, avatar, password, token string) (*Admission, error) {
	current, err := c.storage.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if current.GetPlayer(model.PlayerID(caller.ConnID)) != nil {
		return nil, model.ErrAlreadyInRoom
	}
	if err := c.authorize(ctx, caller, current, password, token, ""); err != nil {
		return nil, err
	}

	player := model.Player{
		ID:       model.PlayerID(caller.ConnID),
		Key:      model.PlayerKey(c.random.ID(PlayerKeyPrefix)),
		Name:     model.SanitizeName(name, model.DefaultPlayerName),
		Avatar:   avatar,
		IsOnline: true,
	}

	room, err := c.storage.MutateRoom(ctx, code, func(r *model.Room) error {
		if r.GetPlayer(player.ID) != nil {
			return model.ErrAlreadyInRoom
		}
		if r.IsFull() {
			return model.ErrRoomFull
		}
		r.Players = append(r.Players, player)
		if r.GetHost() == nil {
			r.SetHost(player.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	left := c.leavePrevious(ctx, caller.ConnID, code)
	if err := c.storage.SetMembership(ctx, caller.ConnID, model.Membership{RoomCode: code, PlayerKey: player.Key}); err != nil {
		return nil, err
	}

	joined := *room.GetPlayer(player.ID)
	c.logger.Info("player joined",
		slog.String("room", string(code)),
		slog.String("conn_id", caller.ConnID),
		slog.String("name", joined.Name),
	)

	return &Admission{
		Room:   room,
		Player: joined,
		Token:  c.tokenFor(room, joined.ID),
		Left:   left,
	}, nil
}

// RejoinRoom attaches the caller's connection to an existing offline player,
// keeping its score, name, avatar and host flag. For private rooms the token
// must have been issued for oldID, otherwise the password is checked.
func (c *Coordinator) RejoinRoom(ctx context.Context, caller Caller, code model.RoomCode, oldID model.PlayerID, password, token string) (*Admission, error) {
	current, err := c.storage.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if current.GetPlayer(oldID) == nil {
		return nil, model.ErrPlayerNotFound
	}
	if err := c.authorize(ctx, caller, current, password, token, oldID); err != nil {
		return nil, err
	}

	newID := model.PlayerID(caller.ConnID)
	room, err := c.storage.MutateRoom(ctx, code, func(r *model.Room) error {
		p := r.GetPlayer(oldID)
		if p == nil {
			return model.ErrPlayerNotFound
		}
		if p.IsOnline {
			return model.ErrIdentityClaimed
		}
		if newID != oldID && r.GetPlayer(newID) != nil {
			return model.ErrAlreadyInRoom
		}
		p.ID = newID
		p.IsOnline = true
		if p.IsHost {
			r.HostID = newID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	player := *room.GetPlayer(newID)
	left := c.leavePrevious(ctx, caller.ConnID, code)

	// The previous connection no longer controls this player
	if oldID != newID {
		if err := c.storage.DeleteMembership(ctx, string(oldID)); err != nil {
			return nil, err
		}
	}
	if err := c.storage.SetMembership(ctx, caller.ConnID, model.Membership{RoomCode: code, PlayerKey: player.Key}); err != nil {
		return nil, err
	}

	c.logger.Info("player rejoined",
		slog.String("room", string(code)),
		slog.String("conn_id", caller.ConnID),
		slog.String("old_id", string(oldID)),
	)

	return &Admission{
		Room:   room,
		Player: player,
		OldID:  oldID,
		Token:  c.tokenFor(room, player.ID),
		Left:   left,
	}, nil
}

// Disconnect marks the connection's player offline and migrates the host if
// needed. It returns nil when there is nothing to do: the connection was in
// no room, the room expired, or a newer connection already controls the
// player.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) (*Departure, error) {
	return c.detach(ctx, connID, "")
}

// detach takes connID offline in the room its registry entry names, unless
// that room is keep.
func (c *Coordinator) detach(ctx context.Context, connID string, keep model.RoomCode) (*Departure, error) {
	membership, err := c.storage.GetMembership(ctx, connID)
	if errors.Is(err, model.ErrMembershipNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if membership.RoomCode == keep {
		return nil, nil
	}

	var departure *Departure
	_, err = c.storage.MutateRoom(ctx, membership.RoomCode, func(r *model.Room) error {
		departure = nil
		p := r.GetPlayerByKey(membership.PlayerKey)
		if p == nil || p.ID != model.PlayerID(connID) || !p.IsOnline {
			return errUnchanged
		}
		p.IsOnline = false
		departure = &Departure{Room: r.ID}

		if p.IsHost {
			if next := r.FirstOnline(); next != nil {
				r.SetHost(next.ID)
				departure.NewHost = next.ID
			}
		}
		departure.Player = *r.GetPlayerByKey(membership.PlayerKey)
		return nil
	})

	if delErr := c.storage.DeleteMembership(ctx, connID); delErr != nil {
		c.logger.Warn("failed to delete membership",
			slog.String("conn_id", connID),
			slog.String("error", delErr.Error()),
		)
	}

	switch {
	case errors.Is(err, errUnchanged), errors.Is(err, model.ErrRoomNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}

	c.logger.Info("player went offline",
		slog.String("room", string(departure.Room)),
		slog.String("conn_id", connID),
		slog.String("new_host", string(departure.NewHost)),
	)
	return departure, nil
}

// leavePrevious detaches connID from the room it was in before entering
// code. It runs only after the new room has committed, so a refused
// create, join or rejoin never touches the previous room. Failures are
// logged; the stale seat is cleaned up by the next disconnect.
func (c *Coordinator) leavePrevious(ctx context.Context, connID string, code model.RoomCode) *Departure {
	left, err := c.detach(ctx, connID, code)
	if err != nil {
		c.logger.Warn("failed to leave previous room",
			slog.String("conn_id", connID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return left
}

// AddOfflinePlayer creates a placeholder player that can later be claimed by
// rejoin. Host only.
func (c *Coordinator) AddOfflinePlayer(ctx context.Context, caller Caller, code model.RoomCode, name, avatar string) (*model.Player, error) {
	player := model.Player{
		ID:     model.PlayerID(c.random.ID(model.OfflinePlayerPrefix)),
		Key:    model.PlayerKey(c.random.ID(PlayerKeyPrefix)),
		Name:   model.SanitizeName(name, model.DefaultOfflinePlayerName),
		Avatar: avatar,
	}

	_, err := c.storage.MutateRoom(ctx, code, func(r *model.Room) error {
		if err := requireHost(r, caller); err != nil {
			return err
		}
		if r.IsFull() {
			return model.ErrRoomFull
		}
		if r.HasName(player.Name) {
			return model.ErrDuplicateName
		}
		r.Players = append(r.Players, player)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("offline player added",
		slog.String("room", string(code)),
		slog.String("player_id", string(player.ID)),
	)
	return &player, nil
}

// UpdateScore stores newScore verbatim for the target player. The caller must
// be an online member of the room.
func (c *Coordinator) UpdateScore(ctx context.Context, caller Caller, code model.RoomCode, playerID model.PlayerID, newScore int64) error {
	_, err := c.storage.MutateRoom(ctx, code, func(r *model.Room) error {
		if err := requireMember(r, caller); err != nil {
			return err
		}
		target := r.GetPlayer(playerID)
		if target == nil {
			return model.ErrPlayerNotFound
		}
		target.Score = newScore
		return nil
	})
	return err
}

// UpdatePlayerName renames the caller's own player and sets its avatar
func (c *Coordinator) UpdatePlayerName(ctx context.Context, caller Caller, code model.RoomCode, newName, avatar string) (*model.Player, error) {
	var updated model.Player
	_, err := c.storage.MutateRoom(ctx, code, func(r *model.Room) error {
		if err := requireMember(r, caller); err != nil {
			return err
		}
		p := r.GetPlayer(model.PlayerID(caller.ConnID))
		p.Name = model.SanitizeName(newName, model.DefaultPlayerName)
		p.Avatar = avatar
		updated = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ResetGame zeroes every score in the room. Host only.
func (c *Coordinator) ResetGame(ctx context.Context, caller Caller, code model.RoomCode) error {
	_, err := c.storage.MutateRoom(ctx, code, func(r *model.Room) error {
		if err := requireHost(r, caller); err != nil {
			return err
		}
		for i := range r.Players {
			r.Players[i].Score = 0
		}
		return nil
	})
	return err
}

// RemovePlayer deletes an offline player from the room. Host only.
func (c *Coordinator) RemovePlayer(ctx context.Context, caller Caller, code model.RoomCode, playerID model.PlayerID) error {
	_, err := c.storage.MutateRoom(ctx, code, func(r *model.Room) error {
		if err := requireHost(r, caller); err != nil {
			return err
		}
		target := r.GetPlayer(playerID)
		if target == nil {
			return model.ErrPlayerNotFound
		}
		if target.IsOnline {
			return model.ErrPlayerOnline
		}
		r.RemovePlayer(playerID)
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("player removed",
		slog.String("room", string(code)),
		slog.String("player_id", string(playerID)),
	)
	return nil
}

// ResolveSignalTarget checks that target shares the caller's current room
func (c *Coordinator) ResolveSignalTarget(ctx context.Context, caller Caller, target model.PlayerID) error {
	membership, err := c.storage.GetMembership(ctx, caller.ConnID)
	if errors.Is(err, model.ErrMembershipNotFound) {
		return model.ErrNotInRoom
	}
	if err != nil {
		return err
	}

	room, err := c.storage.GetRoom(ctx, membership.RoomCode)
	if err != nil {
		return err
	}
	if room.GetPlayer(model.PlayerID(caller.ConnID)) == nil {
		return model.ErrNotInRoom
	}
	if room.GetPlayer(target) == nil {
		return model.ErrPlayerNotFound
	}
	return nil
}

// authorize gates private rooms. A valid token wins; otherwise the password
// is checked under the attempt limiter. When player is set the token must
// have been issued to that player.
func (c *Coordinator) authorize(ctx context.Context, caller Caller, room *model.Room, password, token string, player model.PlayerID) error {
	if !room.IsPrivate() {
		return nil
	}

	if token != "" {
		var err error
		if player == "" {
			_, err = c.access.ValidateToken(token, room.ID)
		} else {
			err = c.access.ValidateTokenFor(token, room.ID, player)
		}
		if err == nil {
			return nil
		}
		if password == "" {
			return err
		}
	}

	if password == "" {
		return model.ErrPasswordRequired
	}
	if err := c.attempts.Check(ctx, caller.Origin, room.ID); err != nil {
		return err
	}
	if !c.access.VerifyPassword(room.PasswordHash, password) {
		if err := c.attempts.RecordFailure(ctx, caller.Origin, room.ID); err != nil {
			return err
		}
		return model.ErrInvalidPassword
	}
	return c.attempts.Clear(ctx, caller.Origin, room.ID)
}

func (c *Coordinator) tokenFor(room *model.Room, player model.PlayerID) string {
	if !room.IsPrivate() {
		return ""
	}
	return c.access.IssueToken(room.ID, player)
}

func requireMember(r *model.Room, caller Caller) error {
	p := r.GetPlayer(model.PlayerID(caller.ConnID))
	if p == nil || !p.IsOnline {
		return model.ErrNotInRoom
	}
	return nil
}

func requireHost(r *model.Room, caller Caller) error {
	if err := requireMember(r, caller); err != nil {
		return err
	}
	if !r.IsHost(model.PlayerID(caller.ConnID)) {
		return model.ErrNotHost
	}
	return nil
}
