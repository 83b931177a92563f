package client

import (
	"time"

	"github.com/Tyrowin/syncchat/internal/room"
)

// Reconcile merges a non-terminal snapshot into a view whose newest fully
// processed message was sent at watermark (nil before the first snapshot).
//
// An unset watermark is first seeded from the snapshot's newest message.
// A snapshot whose window does not overlap the watermark is incompatible:
// ok is false and the watermark comes back unchanged. Otherwise the returned
// snapshot holds only messages newer than the watermark, and next is the
// newest of those, or the old watermark when nothing was new. next is never
// earlier than watermark.
func Reconcile(watermark *time.Time, s room.Snapshot) (out room.Snapshot, next *time.Time, ok bool) {
	if watermark == nil {
		if newest, found := s.Newest(); found {
			watermark = &newest
		}
	}

	if !s.CompatibleWith(watermark) {
		return room.Snapshot{}, watermark, false
	}
	if watermark == nil {
		return s, nil, true
	}

	out = s.After(*watermark)
	next = watermark
	if newest, found := out.Newest(); found {
		next = &newest
	}
	return out, next, true
}
