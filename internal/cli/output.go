package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mcoot/scoreroom/internal/model"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter
func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		_, _ = fmt.Fprintln(o.w, string(data))
	} else {
		_, _ = fmt.Fprintln(o.w, msg)
	}
}

// StreamedEvent is one event printed while following a room
type StreamedEvent struct {
	Time  time.Time       `json:"time"`
	Event model.EventType `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PrintEvent outputs a streamed event. JSON output is one object per line.
func (o *Output) PrintEvent(env model.Envelope) {
	now := time.Now()

	if o.format == "json" {
		data, _ := json.Marshal(StreamedEvent{Time: now, Event: env.Event, Data: env.Data})
		_, _ = fmt.Fprintln(o.w, string(data))
		return
	}

	timestamp := now.Format("2006-01-02 15:04:05")
	// Truncate data if it's too long for display
	displayData := string(env.Data)
	if len(displayData) > 100 {
		displayData = displayData[:100] + "..."
	}
	displayData = strings.ReplaceAll(displayData, "\n", " ")
	_, _ = fmt.Fprintf(o.w, "[%s] %s: %s\n", timestamp, env.Event, displayData)
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case HealthResult:
		o.printHealthResult(v)
	case RoomStatusResult:
		o.printRoomStatus(v)
	case model.RoomCreatedPayload:
		o.printRoomCreated(v)
	case model.RoomJoinedPayload:
		o.printRoomJoined(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// HealthResult response type
type HealthResult struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

// RoomStatusResult is a room_status reply labelled with the room it describes
type RoomStatusResult struct {
	RoomID    string             `json:"roomId"`
	Players   []model.PlayerView `json:"players"`
	IsPrivate bool               `json:"isPrivate"`
}

func (o *Output) printHealthResult(h HealthResult) {
	_, _ = fmt.Fprintf(o.w, "Status: %s\n", h.Status)
	if h.Storage != "" {
		_, _ = fmt.Fprintf(o.w, "Storage: %s\n", h.Storage)
	}
}

func (o *Output) printRoomStatus(r RoomStatusResult) {
	_, _ = fmt.Fprintf(o.w, "Room: %s\n", r.RoomID)
	o.printPrivacy(r.IsPrivate)
	o.printPlayers(r.Players)
}

func (o *Output) printRoomCreated(r model.RoomCreatedPayload) {
	_, _ = fmt.Fprintf(o.w, "Room: %s\n", r.RoomID)
	o.printPrivacy(r.IsPrivate)
	_, _ = fmt.Fprintf(o.w, "You: %s (%s) [host]\n", r.Player.Name, r.Player.ID)
	if r.AccessToken != "" {
		_, _ = fmt.Fprintf(o.w, "Access Token: %s\n", r.AccessToken)
	}
}

func (o *Output) printRoomJoined(r model.RoomJoinedPayload) {
	_, _ = fmt.Fprintf(o.w, "Room: %s\n", r.RoomID)
	o.printPrivacy(r.IsPrivate)
	if r.AccessToken != "" {
		_, _ = fmt.Fprintf(o.w, "Access Token: %s\n", r.AccessToken)
	}
	o.printPlayers(r.Players)
}

func (o *Output) printPrivacy(private bool) {
	if private {
		_, _ = fmt.Fprintln(o.w, "Private: yes")
	} else {
		_, _ = fmt.Fprintln(o.w, "Private: no")
	}
}

func (o *Output) printPlayers(players []model.PlayerView) {
	_, _ = fmt.Fprintf(o.w, "Players (%d):\n", len(players))
	for _, p := range players {
		var tags []string
		if p.IsHost {
			tags = append(tags, "host")
		}
		if !p.IsOnline {
			tags = append(tags, "offline")
		}
		tagStr := ""
		if len(tags) > 0 {
			tagStr = " [" + strings.Join(tags, ", ") + "]"
		}
		_, _ = fmt.Fprintf(o.w, "  - %s (%s): %d%s\n", p.Name, p.ID, p.Score, tagStr)
	}
}
