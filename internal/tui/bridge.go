// Package tui is the terminal front end of the chat client, built on
// Bubble Tea. Bridge adapts agent callbacks into Bubble Tea messages and
// Model renders them.
package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Tyrowin/syncchat/internal/room"
)

type snapshotMsg struct{ snapshot room.Snapshot }

type disconnectedMsg struct{}

type errMsg struct{ err error }

// Bridge implements client.View by queueing each callback for the Bubble
// Tea event loop.
type Bridge struct {
	events    chan tea.Msg
	done      chan struct{}
	closeOnce sync.Once
}

// NewBridge returns a Bridge with room for buffer undelivered events.
func NewBridge(buffer int) *Bridge {
	return &Bridge{
		events: make(chan tea.Msg, buffer),
		done:   make(chan struct{}),
	}
}

func (b *Bridge) SetState(s room.Snapshot) { b.post(snapshotMsg{snapshot: s}) }

func (b *Bridge) Disconnected() { b.post(disconnectedMsg{}) }

// Close releases any callback blocked on a full queue once the UI has exited.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Bridge) post(msg tea.Msg) {
	select {
	case b.events <- msg:
	case <-b.done:
	}
}

// wait returns a command that delivers the next queued callback.
func (b *Bridge) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.events:
			return msg
		case <-b.done:
			return nil
		}
	}
}
