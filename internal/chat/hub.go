package chat

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/wire"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helpboard_ws_connections",
		Help: "Websocket connections registered with this hub",
	})

	framesPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpboard_ws_frames_pushed_total",
			Help: "Server to client frames emitted, by event",
		},
		[]string{"event"},
	)

	slowClientsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helpboard_ws_slow_clients_dropped_total",
		Help: "Connections dropped because their send buffer was full",
	})
)

// ErrHubStopped is returned by emits after Run has exited.
var ErrHubStopped = errors.New("hub stopped")

// Hub owns the connection registry. Only Run touches clients and rooms; every
// other goroutine talks to it through channels.
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	Register   chan *Client
	Unregister chan *Client
	join       chan roomOp
	leave      chan roomOp
	deliver    chan envelope
	done       chan struct{}

	redis   *redis.Client
	channel string
	log     *zap.Logger
}

// NewHub builds a hub. With a nil redis client frames are delivered locally;
// otherwise they go through the Redis channel so every instance sees them.
func NewHub(redisClient *redis.Client, channel string, log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		join:       make(chan roomOp),
		leave:      make(chan roomOp),
		deliver:    make(chan envelope, 256),
		done:       make(chan struct{}),
		redis:      redisClient,
		channel:    channel,
		log:        log.Named("hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return

		case client := <-h.Register:
			h.clients[client] = true
			h.add(client, UserRoom(client.UserID))
			connectedClients.Inc()
			h.log.Debug("client registered", zap.String("conn", client.ID), zap.Int64("user", client.UserID))

		case client := <-h.Unregister:
			h.remove(client)

		case op := <-h.join:
			if h.clients[op.client] {
				h.add(op.client, op.room)
			}

		case op := <-h.leave:
			if members, ok := h.rooms[op.room]; ok {
				delete(members, op.client)
				if len(members) == 0 {
					delete(h.rooms, op.room)
				}
			}

		case env := <-h.deliver:
			h.fanOut(env)
		}
	}
}

func (h *Hub) add(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[c] = true
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	close(c.send)
	connectedClients.Dec()
}

func (h *Hub) fanOut(env envelope) {
	var targets map[*Client]bool
	switch {
	case env.client != nil:
		targets = map[*Client]bool{env.client: h.clients[env.client]}
	case env.Room == "":
		targets = h.clients
	default:
		targets = h.rooms[env.Room]
	}

	for client, ok := range targets {
		if !ok {
			continue
		}
		select {
		case client.send <- env.Payload:
		default:
			// Slow consumer: drop the connection rather than block the hub.
			slowClientsDropped.Inc()
			h.log.Warn("dropping slow client", zap.String("conn", client.ID), zap.Int64("user", client.UserID))
			h.remove(client)
		}
	}
}

// Join adds c to room. Membership checks are the caller's job.
func (h *Hub) Join(ctx context.Context, c *Client, room string) error {
	return h.send(ctx, h.join, roomOp{client: c, room: room})
}

func (h *Hub) Leave(ctx context.Context, c *Client, room string) error {
	return h.send(ctx, h.leave, roomOp{client: c, room: room})
}

func (h *Hub) send(ctx context.Context, ch chan roomOp, op roomOp) error {
	select {
	case ch <- op:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) EmitToRoom(ctx context.Context, room, event string, payload interface{}) error {
	frame, err := wire.Encode(event, payload)
	if err != nil {
		return err
	}
	framesPushed.WithLabelValues(event).Inc()
	return h.emit(ctx, envelope{Room: room, Payload: frame})
}

func (h *Hub) EmitToUser(ctx context.Context, userID int64, event string, payload interface{}) error {
	return h.EmitToRoom(ctx, UserRoom(userID), event, payload)
}

// Broadcast sends to every connection on every instance.
func (h *Hub) Broadcast(ctx context.Context, event string, payload interface{}) error {
	return h.EmitToRoom(ctx, "", event, payload)
}

// EmitToClient answers a single connection. It never leaves this instance.
func (h *Hub) EmitToClient(ctx context.Context, c *Client, event string, payload interface{}) error {
	frame, err := wire.Encode(event, payload)
	if err != nil {
		return err
	}
	framesPushed.WithLabelValues(event).Inc()
	return h.local(ctx, envelope{Payload: frame, client: c})
}

func (h *Hub) emit(ctx context.Context, env envelope) error {
	if h.redis == nil {
		return h.local(ctx, env)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return h.redis.Publish(ctx, h.channel, data).Err()
}

func (h *Hub) local(ctx context.Context, env envelope) error {
	select {
	case h.deliver <- env:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeToRedis relays frames published by any instance, this one
// included, into the local registry. It returns when ctx is done.
func (h *Hub) SubscribeToRedis(ctx context.Context) {
	if h.redis == nil {
		return
	}
	pubsub := h.redis.Subscribe(ctx, h.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.log.Warn("bad fan-out payload", zap.Error(err))
				continue
			}
			if err := h.local(ctx, env); err != nil {
				return
			}
		}
	}
}
