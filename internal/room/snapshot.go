// Package room holds the authoritative chat state: the append-only message
// log, the set of logged-in names, and the snapshot values the server sends
// to clients.
package room

import (
	"slices"
	"sort"
	"time"
)

// Message is a single accepted chat line. Messages are never mutated after
// the dispatcher appends them.
type Message struct {
	Content string    `json:"content"`
	Author  string    `json:"author"`
	SentAt  time.Time `json:"sent_at"`
}

// Status tells the receiving client what the snapshot means for its session.
type Status string

const (
	StatusContinuing      Status = "CONTINUING"
	StatusJustLoggedIn    Status = "JUST_LOGGED_IN"
	StatusMessageRejected Status = "MESSAGE_REJECTED"
	StatusLoggedOut       Status = "LOGGED_OUT"
	StatusNameRejected    Status = "NAME_REJECTED"
	StatusRejected        Status = "REJECTED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusContinuing, StatusJustLoggedIn, StatusMessageRejected,
		StatusLoggedOut, StatusNameRejected, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether the connection is closed after a snapshot with this status.
func (s Status) Terminal() bool {
	return s == StatusLoggedOut || s == StatusNameRejected || s == StatusRejected
}

// Snapshot is the state payload sent from the server to one client: a window
// of messages sorted by SentAt, the logged-in names and a status tag.
//
// A Snapshot is a value; methods that narrow it return a new Snapshot and
// leave the receiver untouched.
type Snapshot struct {
	Messages []Message `json:"messages"`
	Names    []string  `json:"names"`
	Status   Status    `json:"status"`
}

// NewSnapshot copies messages and names into a new Snapshot, sorting the
// messages by SentAt (stable) and the names alphabetically.
func NewSnapshot(messages []Message, names []string, status Status) Snapshot {
	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})

	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	return Snapshot{Messages: msgs, Names: sorted, Status: status}
}

// Terminal reports whether the snapshot ends the session.
func (s Snapshot) Terminal() bool {
	return s.Status.Terminal()
}

// Newest returns the latest SentAt in the window.
func (s Snapshot) Newest() (time.Time, bool) {
	if len(s.Messages) == 0 {
		return time.Time{}, false
	}
	newest := s.Messages[0].SentAt
	for _, m := range s.Messages[1:] {
		if m.SentAt.After(newest) {
			newest = m.SentAt
		}
	}
	return newest, true
}

// CompatibleWith reports whether the window overlaps what a client with the
// given watermark has already seen: the watermark is unset, the window is
// empty, or at least one message is not newer than the watermark.
//
// A window that straddles a gap still counts as compatible as long as one of
// its messages is at or before the watermark.
func (s Snapshot) CompatibleWith(watermark *time.Time) bool {
	if watermark == nil || len(s.Messages) == 0 {
		return true
	}
	for _, m := range s.Messages {
		if !m.SentAt.After(*watermark) {
			return true
		}
	}
	return false
}

// After returns a copy of s that keeps only messages strictly newer than watermark.
func (s Snapshot) After(watermark time.Time) Snapshot {
	kept := make([]Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.SentAt.After(watermark) {
			kept = append(kept, m)
		}
	}
	return Snapshot{Messages: kept, Names: slices.Clone(s.Names), Status: s.Status}
}

// HasName reports whether name is in the logged-in set.
func (s Snapshot) HasName(name string) bool {
	return slices.Contains(s.Names, name)
}
