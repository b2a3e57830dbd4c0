package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/mcoot/scoreroom/internal/model"
)

func newRoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Room commands",
	}

	cmd.AddCommand(newRoomCheckCmd())
	cmd.AddCommand(newRoomCreateCmd())
	cmd.AddCommand(newRoomJoinCmd())
	cmd.AddCommand(newRoomRejoinCmd())

	return cmd
}

// followFlags control streaming after the initial reply
type followFlags struct {
	follow bool
	count  int
}

func (f *followFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.follow, "follow", "f", false, "Stay connected and stream room events (Ctrl+C to stop)")
	cmd.Flags().IntVar(&f.count, "count", 0, "With --follow, stop after this many events (0 = until interrupted)")
}

func newRoomCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <code>",
		Short: "Show a room's players and privacy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := strings.ToUpper(args[0])

			var status model.RoomStatusPayload
			return exchange(cmd, model.CmdCheckRoom, model.CheckRoomCommand{RoomID: code}, model.EventRoomStatus, &status, func() any {
				return RoomStatusResult{RoomID: code, Players: status.Players, IsPrivate: status.IsPrivate}
			}, followFlags{})
		},
	}
}

func newRoomCreateCmd() *cobra.Command {
	var name, avatar, password string
	var ff followFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a room and become its host",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := model.CreateRoomCommand{PlayerName: name, Avatar: avatar, Password: password}
			var created model.RoomCreatedPayload
			return exchange(cmd, model.CmdCreateRoom, req, model.EventRoomCreated, &created, func() any { return created }, ff)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Player name")
	cmd.Flags().StringVar(&avatar, "avatar", "", "Avatar token")
	cmd.Flags().StringVar(&password, "password", "", "Room password (makes the room private)")
	ff.register(cmd)

	return cmd
}

func newRoomJoinCmd() *cobra.Command {
	var name, avatar, password, token string
	var ff followFlags

	cmd := &cobra.Command{
		Use:   "join <code>",
		Short: "Join a room as a new player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := model.JoinRoomCommand{
				RoomID:      strings.ToUpper(args[0]),
				PlayerName:  name,
				Avatar:      avatar,
				Password:    password,
				AccessToken: token,
			}
			var joined model.RoomJoinedPayload
			return exchange(cmd, model.CmdJoinRoom, req, model.EventRoomJoined, &joined, func() any { return joined }, ff)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Player name")
	cmd.Flags().StringVar(&avatar, "avatar", "", "Avatar token")
	cmd.Flags().StringVar(&password, "password", "", "Room password")
	cmd.Flags().StringVar(&token, "token", "", "Access token from an earlier join")
	ff.register(cmd)

	return cmd
}

func newRoomRejoinCmd() *cobra.Command {
	var playerID, password, token string
	var ff followFlags

	cmd := &cobra.Command{
		Use:   "rejoin <code>",
		Short: "Reclaim an offline player in a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := model.RejoinRoomCommand{
				RoomID:      strings.ToUpper(args[0]),
				OldPlayerID: model.PlayerID(playerID),
				Password:    password,
				AccessToken: token,
			}
			var joined model.RoomJoinedPayload
			return exchange(cmd, model.CmdRejoinRoom, req, model.EventRoomJoined, &joined, func() any { return joined }, ff)
		},
	}

	cmd.Flags().StringVar(&playerID, "player-id", "", "Id of the player to reclaim (required)")
	cmd.Flags().StringVar(&password, "password", "", "Room password")
	cmd.Flags().StringVar(&token, "token", "", "Access token issued for the player")
	_ = cmd.MarkFlagRequired("player-id")
	ff.register(cmd)

	return cmd
}

// exchange sends one command, waits for the want reply, decodes it into reply
// and prints show(). With follow set the session stays open and later room
// events are printed too.
func exchange(cmd *cobra.Command, event model.EventType, req any, want model.EventType, reply any, show func() any, ff followFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	replyCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	session, err := client.Connect(replyCtx)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()
	verbosef(cmd, "connected to %s\n", cfg.ServerURL)

	if err := session.Send(event, req); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}
	if _, err := session.Await(replyCtx, reply, want); err != nil {
		return err
	}

	out := NewOutput(cfg.Output, cmd.OutOrStdout())
	out.Print(show())

	if !ff.follow {
		return nil
	}
	return follow(ctx, cmd, session, out, ff.count)
}

func follow(ctx context.Context, cmd *cobra.Command, session *Session, out *Output, count int) error {
	verbosef(cmd, "following room events\n")
	for seen := 0; count == 0 || seen < count; seen++ {
		env, err := session.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				verbosef(cmd, "disconnected\n")
				return nil
			}
			return fmt.Errorf("stream error: %w", err)
		}
		out.PrintEvent(env)
	}
	return nil
}

func isClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func verbosef(cmd *cobra.Command, format string, args ...any) {
	if cfg.Verbose {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), format, args...)
	}
}
