package room

import (
	"sort"
	"time"
	"unicode/utf8"
)

const (
	// DefaultNameMaxLength is the longest accepted user name, in characters.
	DefaultNameMaxLength = 15
	// DefaultTolerance is how far a client's last-seen timestamp may trail
	// the newest logged message before its submission is rejected.
	DefaultTolerance = 500 * time.Millisecond
	// RecentWindowSize is the number of trailing messages in a routine snapshot.
	RecentWindowSize = 2

	GreetingAuthor  = "Server"
	GreetingContent = "Server has been created"
)

// Room is the message log plus the set of logged-in names.
//
// Room is not safe for concurrent use. The server confines every call to its
// dispatcher goroutine.
type Room struct {
	messages      []Message
	names         map[string]struct{}
	nameMaxLength int
	tolerance     time.Duration
}

// Option configures a Room.
type Option func(*Room)

// WithNameMaxLength overrides DefaultNameMaxLength. Non-positive values are ignored.
func WithNameMaxLength(n int) Option {
	return func(r *Room) {
		if n > 0 {
			r.nameMaxLength = n
		}
	}
}

// WithTolerance overrides DefaultTolerance. Negative values are ignored.
func WithTolerance(d time.Duration) Option {
	return func(r *Room) {
		if d >= 0 {
			r.tolerance = d
		}
	}
}

// WithGreeting seeds the log with a server message sent at the given time, so
// the first client to connect has a timestamp to reconcile against.
func WithGreeting(at time.Time) Option {
	return func(r *Room) {
		r.messages = append(r.messages, Message{
			Content: GreetingContent,
			Author:  GreetingAuthor,
			SentAt:  at,
		})
	}
}

// New creates an empty Room.
func New(opts ...Option) *Room {
	r := &Room{
		names:         make(map[string]struct{}),
		nameMaxLength: DefaultNameMaxLength,
		tolerance:     DefaultTolerance,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddMessage appends msg to the log. Callers validate before constructing msg.
func (r *Room) AddMessage(msg Message) {
	r.messages = append(r.messages, msg)
}

// Len returns the number of logged messages.
func (r *Room) Len() int {
	return len(r.messages)
}

// Latest returns the SentAt of the last appended message.
func (r *Room) Latest() (time.Time, bool) {
	if len(r.messages) == 0 {
		return time.Time{}, false
	}
	return r.messages[len(r.messages)-1].SentAt, true
}

// IsValidDate reports whether a client claiming ts as its last-seen time is
// close enough to the newest logged message for its submission to be accepted.
func (r *Room) IsValidDate(ts *time.Time) bool {
	if ts == nil {
		return false
	}
	latest, ok := r.Latest()
	if !ok {
		return true
	}
	return latest.Sub(*ts) <= r.tolerance
}

// MessagesAfter returns every message with SentAt at or after ts, ascending.
// It returns an empty slice when ts is nil.
func (r *Room) MessagesAfter(ts *time.Time) []Message {
	out := []Message{}
	if ts == nil {
		return out
	}
	// The log is appended in time order, so the scan can stop at the first older message.
	i := len(r.messages)
	for i > 0 && !r.messages[i-1].SentAt.Before(*ts) {
		i--
	}
	return append(out, r.messages[i:]...)
}

// RecentWindow returns the last RecentWindowSize messages, or fewer.
func (r *Room) RecentWindow() []Message {
	start := len(r.messages) - RecentWindowSize
	if start < 0 {
		start = 0
	}
	return append([]Message{}, r.messages[start:]...)
}

// IsNameAllowed reports whether name is non-empty, short enough and unused.
func (r *Room) IsNameAllowed(name string) bool {
	if name == "" || utf8.RuneCountInString(name) > r.nameMaxLength {
		return false
	}
	_, taken := r.names[name]
	return !taken
}

// AddUser marks name as logged in.
func (r *Room) AddUser(name string) {
	r.names[name] = struct{}{}
}

// RemoveUser drops name from the logged-in set.
func (r *Room) RemoveUser(name string) {
	delete(r.names, name)
}

// HasUser reports whether name is logged in.
func (r *Room) HasUser(name string) bool {
	_, ok := r.names[name]
	return ok
}

// Names returns the logged-in names, sorted.
func (r *Room) Names() []string {
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot builds a snapshot from the recent window.
func (r *Room) Snapshot(status Status) Snapshot {
	return NewSnapshot(r.RecentWindow(), r.Names(), status)
}

// SnapshotSince builds a snapshot holding every message at or after ts.
func (r *Room) SnapshotSince(ts *time.Time, status Status) Snapshot {
	return NewSnapshot(r.MessagesAfter(ts), r.Names(), status)
}
