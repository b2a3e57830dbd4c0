package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcoot/scoreroom/internal/model"
	"github.com/mcoot/scoreroom/internal/ratelimit"
	"github.com/mcoot/scoreroom/internal/services/presence"
)

// DefaultCommandTimeout bounds the store work of a single command
const DefaultCommandTimeout = 5 * time.Second

// Router decodes inbound frames, validates and throttles them, runs them
// against the presence coordinator and fans the results out through the hub.
type Router struct {
	coordinator *presence.Coordinator
	hub         *Hub
	throttle    *ratelimit.FixedWindow
	timeout     time.Duration
	logger      *slog.Logger
}

// NewRouter creates a new Router. throttle is keyed by connection id.
func NewRouter(coordinator *presence.Coordinator, hub *Hub, throttle *ratelimit.FixedWindow, logger *slog.Logger) *Router {
	return &Router{
		coordinator: coordinator,
		hub:         hub,
		throttle:    throttle,
		timeout:     DefaultCommandTimeout,
		logger:      logger.With(slog.String("component", "router")),
	}
}

// Handle processes one inbound frame from client. Every failure is reported
// to the client as a single app_error; nothing here closes the connection.
func (r *Router) Handle(ctx context.Context, client *Client, raw []byte) {
	if !r.throttle.AllowNow(client.id) {
		r.logger.Debug("command dropped - throttled", slog.String("conn_id", client.id))
		return
	}

	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.fail(client, "", model.InvalidInput("malformed message"))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic handling command",
				slog.String("conn_id", client.id),
				slog.String("event", string(env.Event)),
				slog.Any("panic", rec))
			r.fail(client, env.Event, fmt.Errorf("panic: %v", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.dispatch(ctx, client, env); err != nil {
		r.fail(client, env.Event, err)
	}
}

// Disconnected takes the client's player offline and tells the room
func (r *Router) Disconnected(ctx context.Context, client *Client) {
	r.throttle.Forget(client.id)
	r.hub.LeaveRoom(client)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	departure, err := r.coordinator.Disconnect(ctx, client.id)
	if err != nil {
		r.logger.Error("disconnect handling failed",
			slog.String("conn_id", client.id),
			slog.String("error", err.Error()))
		return
	}
	r.announceDeparture(departure)
}

func (r *Router) dispatch(ctx context.Context, client *Client, env model.Envelope) error {
	caller := presence.Caller{ConnID: client.id, Origin: client.origin}

	switch env.Event {
	case model.CmdCreateRoom:
		var cmd model.CreateRoomCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		adm, err := r.coordinator.CreateRoom(ctx, caller, cmd.PlayerName, cmd.Avatar, cmd.Password)
		if err != nil {
			return err
		}
		r.enterRoom(client, adm)
		r.reply(client, model.EventRoomCreated, model.RoomCreatedPayload{
			RoomID:      adm.Room.ID,
			Player:      model.ViewOf(adm.Player),
			AccessToken: adm.Token,
			IsPrivate:   adm.Room.IsPrivate(),
		})

	case model.CmdCheckRoom:
		var cmd model.CheckRoomCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		room, err := r.coordinator.CheckRoom(ctx, model.NormalizeRoomCode(cmd.RoomID))
		if err != nil {
			return err
		}
		r.reply(client, model.EventRoomStatus, model.RoomStatusPayload{
			Players:   model.ViewsOf(room.Players),
			IsPrivate: room.IsPrivate(),
		})

	case model.CmdJoinRoom:
		var cmd model.JoinRoomCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		adm, err := r.coordinator.JoinRoom(ctx, caller, model.NormalizeRoomCode(cmd.RoomID),
			cmd.PlayerName, cmd.Avatar, cmd.Password, cmd.AccessToken)
		if err != nil {
			return err
		}
		r.enterRoom(client, adm)
		r.broadcast(adm.Room.ID, model.EventPlayerJoined, model.ViewOf(adm.Player), client.id)
		r.replyJoined(client, adm)

	case model.CmdRejoinRoom:
		var cmd model.RejoinRoomCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		adm, err := r.coordinator.RejoinRoom(ctx, caller, model.NormalizeRoomCode(cmd.RoomID),
			cmd.OldPlayerID, cmd.Password, cmd.AccessToken)
		if err != nil {
			return err
		}
		r.enterRoom(client, adm)
		r.broadcast(adm.Room.ID, model.EventPlayerUpdated, model.PlayerUpdatedPayload{
			PlayerView: model.ViewOf(adm.Player),
			OldID:      adm.OldID,
		}, client.id)
		r.replyJoined(client, adm)

	case model.CmdAddOfflinePlayer:
		var cmd model.AddOfflinePlayerCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		code := model.NormalizeRoomCode(cmd.RoomID)
		player, err := r.coordinator.AddOfflinePlayer(ctx, caller, code, cmd.PlayerName, cmd.Avatar)
		if err != nil {
			return err
		}
		r.broadcast(code, model.EventPlayerJoined, model.ViewOf(*player), "")

	case model.CmdUpdateScore:
		var cmd model.UpdateScoreCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		code := model.NormalizeRoomCode(cmd.RoomID)
		if err := r.coordinator.UpdateScore(ctx, caller, code, cmd.PlayerID, *cmd.NewScore); err != nil {
			return err
		}
		r.broadcast(code, model.EventScoreUpdated, model.ScoreUpdatedPayload{
			PlayerID: cmd.PlayerID,
			NewScore: *cmd.NewScore,
		}, client.id)

	case model.CmdUpdatePlayerName:
		var cmd model.UpdatePlayerNameCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		code := model.NormalizeRoomCode(cmd.RoomID)
		player, err := r.coordinator.UpdatePlayerName(ctx, caller, code, cmd.NewName, cmd.Avatar)
		if err != nil {
			return err
		}
		r.broadcast(code, model.EventPlayerNameUpdated, model.PlayerNameUpdatedPayload{
			PlayerID: player.ID,
			Name:     player.Name,
			Avatar:   player.Avatar,
		}, "")

	case model.CmdResetGame:
		var cmd model.ResetGameCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		code := model.NormalizeRoomCode(cmd.RoomID)
		if err := r.coordinator.ResetGame(ctx, caller, code); err != nil {
			return err
		}
		r.broadcast(code, model.EventGameReset, model.GameResetPayload{}, "")

	case model.CmdRemovePlayer:
		var cmd model.RemovePlayerCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		code := model.NormalizeRoomCode(cmd.RoomID)
		if err := r.coordinator.RemovePlayer(ctx, caller, code, cmd.PlayerID); err != nil {
			return err
		}
		r.broadcast(code, model.EventPlayerRemoved, model.PlayerRemovedPayload{PlayerID: cmd.PlayerID}, "")

	case model.CmdSignal:
		var cmd model.SignalCommand
		if err := decode(env.Data, &cmd); err != nil {
			return err
		}
		if err := r.coordinator.ResolveSignalTarget(ctx, caller, cmd.Target); err != nil {
			r.logger.Warn("signal blocked",
				slog.String("conn_id", client.id),
				slog.String("target", string(cmd.Target)),
				slog.String("error", err.Error()))
			return nil
		}
		msg, err := encode(model.EventSignal, model.SignalPayload{
			Sender: model.PlayerID(client.id),
			Signal: cmd.Signal,
		})
		if err != nil {
			return err
		}
		r.hub.SendTo(string(cmd.Target), msg)

	default:
		return model.InvalidInput("unknown event %q", env.Event)
	}
	return nil
}

// enterRoom moves the client's fan-out group and announces the room it
// left behind, if any.
func (r *Router) enterRoom(client *Client, adm *presence.Admission) {
	r.hub.JoinRoom(client, adm.Room.ID)
	r.announceDeparture(adm.Left)
}

func (r *Router) announceDeparture(dep *presence.Departure) {
	if dep == nil {
		return
	}
	r.broadcast(dep.Room, model.EventPlayerUpdated, model.PlayerUpdatedPayload{PlayerView: model.ViewOf(dep.Player)}, "")
	if dep.NewHost != "" {
		r.broadcast(dep.Room, model.EventHostMigrated, model.HostMigratedPayload{NewHostID: dep.NewHost}, "")
	}
}

func (r *Router) replyJoined(client *Client, adm *presence.Admission) {
	r.reply(client, model.EventRoomJoined, model.RoomJoinedPayload{
		RoomID:      adm.Room.ID,
		Players:     model.ViewsOf(adm.Room.Players),
		AccessToken: adm.Token,
		IsPrivate:   adm.Room.IsPrivate(),
	})
}

func (r *Router) reply(client *Client, event model.EventType, payload any) {
	msg, err := encode(event, payload)
	if err != nil {
		r.logger.Error("failed to encode reply", slog.String("event", string(event)), slog.String("error", err.Error()))
		return
	}
	r.hub.SendTo(client.id, msg)
}

func (r *Router) broadcast(code model.RoomCode, event model.EventType, payload any, except string) {
	msg, err := encode(event, payload)
	if err != nil {
		r.logger.Error("failed to encode broadcast", slog.String("event", string(event)), slog.String("error", err.Error()))
		return
	}
	r.hub.Broadcast(code, msg, except)
}

// fail sends the single app_error for a failed command
func (r *Router) fail(client *Client, event model.EventType, err error) {
	kind := model.KindOf(err)
	if kind == model.KindInternal {
		r.logger.Error("command failed",
			slog.String("conn_id", client.id),
			slog.String("event", string(event)),
			slog.String("error", err.Error()))
	} else {
		r.logger.Debug("command rejected",
			slog.String("conn_id", client.id),
			slog.String("event", string(event)),
			slog.String("kind", string(kind)))
	}
	r.reply(client, model.EventAppError, model.AppErrorPayload{
		Kind:    kind,
		Message: model.MessageOf(err),
	})
}

type validator interface {
	Validate() error
}

// decode unmarshals a command body and validates it
func decode(data json.RawMessage, cmd validator) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, cmd); err != nil {
		return model.InvalidInput("malformed payload")
	}
	return cmd.Validate()
}

func encode(event model.EventType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(model.Envelope{Event: event, Data: data})
}
