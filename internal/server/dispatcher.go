package server

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/Tyrowin/syncchat/internal/logger"
	"github.com/Tyrowin/syncchat/internal/protocol"
	"github.com/Tyrowin/syncchat/internal/room"
)

// Dispatcher applies inbound events to the room one at a time. It is the
// only goroutine that touches the room or the name mapping.
type Dispatcher struct {
	room          *room.Room
	hub           *Hub
	queue         *eventQueue
	names         map[*Client]string
	textMaxLength int
	metrics       *metrics

	now func() time.Time
}

func newDispatcher(r *room.Room, hub *Hub, queue *eventQueue, cfg Config, m *metrics) *Dispatcher {
	return &Dispatcher{
		room:          r,
		hub:           hub,
		queue:         queue,
		names:         make(map[*Client]string),
		textMaxLength: cfg.TextMaxLength,
		metrics:       m,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run drains the event queue until the queue is closed and empty or ctx is
// cancelled. A closed queue is a normal stop and returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger.Info("dispatcher started")
	defer logger.Info("dispatcher stopped")

	for {
		in, err := d.queue.pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}
		d.dispatch(in)
	}
}

func (d *Dispatcher) dispatch(in inboundEvent) {
	switch ev := in.event.(type) {
	case protocol.Login:
		d.handleLogin(in.client, ev)
	case protocol.Message:
		d.handleMessage(in.client, ev)
	case protocol.Logout:
		d.handleLogout(in.client)
	case protocol.StateRequest:
		d.handleStateRequest(in.client, ev)
	default:
		logger.Warn("dropping unknown event", "type", fmt.Sprintf("%T", in.event))
		return
	}
	d.metrics.events.WithLabelValues(string(in.event.Kind())).Inc()
}

func (d *Dispatcher) handleLogin(c *Client, ev protocol.Login) {
	if c.Closing() {
		return
	}
	if _, already := d.names[c]; already {
		logger.Warn("ignoring repeated login", "client", c.id, "name", ev.Name)
		return
	}

	if !d.room.IsNameAllowed(ev.Name) {
		logger.Info("login rejected", "client", c.id, "name", ev.Name)
		d.metrics.namesRejected.Inc()
		d.hub.Remove(c)
		c.Send(d.room.Snapshot(room.StatusNameRejected))
		c.Close()
		return
	}

	d.names[c] = ev.Name
	d.room.AddUser(ev.Name)
	d.metrics.loggedIn.Set(float64(len(d.names)))
	logger.Info("user logged in", "client", c.id, "name", ev.Name, "addr", c.addr)

	// c is not yet marked logged in, so the roster broadcast skips it and its
	// handshake reply arrives on its own.
	d.hub.Broadcast(d.room.Snapshot(room.StatusContinuing))
	c.setLoggedIn()
	c.Send(d.room.Snapshot(room.StatusJustLoggedIn))
}

func (d *Dispatcher) handleMessage(c *Client, ev protocol.Message) {
	author, ok := d.names[c]
	if !ok {
		logger.Debug("ignoring message from connection that is not logged in", "client", c.id)
		return
	}

	if ev.Text == "" || utf8.RuneCountInString(ev.Text) > d.textMaxLength {
		logger.Warn("dropping message with invalid length", "client", c.id, "runes", utf8.RuneCountInString(ev.Text))
		return
	}

	if !d.room.IsValidDate(ev.Since) {
		logger.Info("message rejected for stale watermark", "client", c.id, "name", author)
		d.metrics.messagesRejected.Inc()
		c.Send(d.room.SnapshotSince(ev.Since, room.StatusMessageRejected))
		return
	}

	d.room.AddMessage(room.Message{
		Content: ev.Text,
		Author:  author,
		SentAt:  d.timestamp(),
	})
	d.metrics.messagesAppended.Inc()
	d.hub.Broadcast(d.room.Snapshot(room.StatusContinuing))
}

// timestamp returns the server clock, never earlier than the newest logged
// message so the log stays ordered even if the wall clock steps back.
func (d *Dispatcher) timestamp() time.Time {
	now := d.now()
	if latest, ok := d.room.Latest(); ok && now.Before(latest) {
		return latest
	}
	return now
}

func (d *Dispatcher) handleLogout(c *Client) {
	name, wasLoggedIn := d.names[c]
	delete(d.names, c)
	if wasLoggedIn {
		d.room.RemoveUser(name)
		d.metrics.loggedIn.Set(float64(len(d.names)))
		logger.Info("user logged out", "client", c.id, "name", name)
	}

	d.hub.Remove(c)
	c.Send(d.room.Snapshot(room.StatusLoggedOut))
	c.Close()

	if wasLoggedIn {
		d.hub.Broadcast(d.room.Snapshot(room.StatusContinuing))
	}
}

func (d *Dispatcher) handleStateRequest(c *Client, ev protocol.StateRequest) {
	if _, ok := d.names[c]; !ok {
		return
	}
	c.Send(d.room.SnapshotSince(ev.Since, room.StatusContinuing))
}
