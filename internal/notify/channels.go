package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel is one independent delivery path. The dispatcher attempts every
// configured channel regardless of earlier outcomes; redundancy is the
// point, because no single path (or presence signal) is reliable.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

func socketMessage(ev Event) Message {
	return Message{
		Type:      string(ev.Type),
		Data:      eventData(ev),
		Timestamp: time.Now().UTC(),
	}
}

func eventData(ev Event) map[string]any {
	data := map[string]any{"session_id": ev.SessionID}
	for k, v := range ev.Payload {
		data[k] = v
	}
	return data
}

// SocketChannel pushes directly to the recipient's live sockets.
type SocketChannel struct {
	hub *Hub
}

func NewSocketChannel(hub *Hub) *SocketChannel { return &SocketChannel{hub: hub} }

func (c *SocketChannel) Name() string { return "socket" }

func (c *SocketChannel) Deliver(ctx context.Context, ev Event) error {
	if n := c.hub.SendToUser(ev.RecipientID, socketMessage(ev)); n == 0 {
		return fmt.Errorf("recipient %s has no live socket", ev.RecipientID)
	}
	return nil
}

// RoomChannel pushes to every socket watching the session's room, catching
// recipients whose user binding was lost but who still sit in the room.
type RoomChannel struct {
	hub *Hub
}

func NewRoomChannel(hub *Hub) *RoomChannel { return &RoomChannel{hub: hub} }

func (c *RoomChannel) Name() string { return "room" }

func (c *RoomChannel) Deliver(ctx context.Context, ev Event) error {
	room := "session:" + ev.SessionID
	if n := c.hub.SendToRoom(room, socketMessage(ev)); n == 0 {
		return fmt.Errorf("no sockets in %s", room)
	}
	return nil
}

// LegacyChannel publishes to the per-user redis topic older clients still
// subscribe to.
type LegacyChannel struct {
	rdb *redis.Client
}

func NewLegacyChannel(rdb *redis.Client) *LegacyChannel { return &LegacyChannel{rdb: rdb} }

func (c *LegacyChannel) Name() string { return "legacy" }

func (c *LegacyChannel) Deliver(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	n, err := c.rdb.Publish(ctx, "notify:user:"+ev.RecipientID, payload).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no subscribers on legacy topic for %s", ev.RecipientID)
	}
	return nil
}

// BroadcastChannel is the last resort: publish to a shared topic and let
// clients filter by recipient id. Success here only means the publish
// landed; whether anyone was listening is unknowable.
type BroadcastChannel struct {
	rdb *redis.Client
}

func NewBroadcastChannel(rdb *redis.Client) *BroadcastChannel { return &BroadcastChannel{rdb: rdb} }

func (c *BroadcastChannel) Name() string { return "broadcast" }

func (c *BroadcastChannel) Deliver(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, "notify:broadcast", payload).Err()
}
