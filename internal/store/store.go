// Package store implements the in-flight Store: an ordered, fixed-capacity
// queue of pending protocol operations partitioned into "not yet sent" and
// "awaiting peer response".
//
// Two Store instances exist per client (a capacity-1 connect store and a
// capacity-C main store); which one is "current" is a decision the client
// state machine makes, not something this package is aware of.
package store

import "github.com/gonzalop/lmqttcore/internal/clock"

// Kind tags what protocol exchange a Store entry represents.
type Kind int

const (
	KindConnect Kind = iota
	KindPublish0
	KindPublish1
	KindPublish2
	KindPubAck
	KindPubRec
	KindPubRel
	KindPubComp
	KindSubscribe
	KindUnsubscribe
	KindPingReq
	KindDisconnect
)

// CompletionFunc is invoked exactly once per entry, with succeeded=true on
// a matching acknowledgement and succeeded=false on cleanup (finalize,
// connect rejection, or a QoS-0/fire-and-forget entry dropped before its
// bytes are known to be sent).
type CompletionFunc func(data any, value any, succeeded bool)

// Entry is one queued protocol operation.
type Entry struct {
	Kind      Kind
	PacketID  uint16
	TouchTime clock.Time
	Value     any

	// EncodeCount is incremented every time the encoder finishes this
	// entry's recipe, so a second transmission of a PUBLISH carries DUP.
	EncodeCount int

	OnComplete     CompletionFunc
	OnCompleteData any
}

func (e *Entry) complete(succeeded bool) {
	if e.OnComplete != nil {
		e.OnComplete(e.OnCompleteData, e.Value, succeeded)
	}
}

// Store is an ordered array of entries with a caller-provided fixed
// capacity and two cursors: count (total entries) and pos (entries already
// sent). Entries [0,pos) are awaiting a peer reply; entries [pos,count)
// are queued to send next.
type Store struct {
	entries   []Entry
	pos       int
	getTime   func() clock.Time
	keepAlive uint32
	timeout   uint32
	nextID    uint16
	lastTouch clock.Time
}

// New wraps a caller-provided, zero-length slice as the store's backing
// array; cap(buf) is the store's capacity. getTime supplies monotonic
// time; keepAlive and timeout are whole-second windows, 0 disabling each.
func New(buf []Entry, getTime func() clock.Time, keepAlive, timeout uint32) *Store {
	return &Store{
		entries:   buf[:0],
		getTime:   getTime,
		keepAlive: keepAlive,
		timeout:   timeout,
		nextID:    1,
	}
}

// Cap returns the store's fixed capacity.
func (s *Store) Cap() int { return cap(s.entries) }

// Count returns the total number of queued entries.
func (s *Store) Count() int { return len(s.entries) }

// GetID returns the next free-running packet identifier, skipping zero.
func (s *Store) GetID() uint16 {
	id := s.nextID
	s.nextID++
	if s.nextID == 0 {
		s.nextID = 1
	}
	return id
}

// Append places a new entry at the tail of the queue. It fails if the
// store is already at capacity.
func (s *Store) Append(e Entry) bool {
	if len(s.entries) == cap(s.entries) {
		return false
	}
	s.entries = append(s.entries, e)
	return true
}

// Peek returns the first unsent entry, if any.
func (s *Store) Peek() (*Entry, bool) {
	if s.pos >= len(s.entries) {
		return nil, false
	}
	return &s.entries[s.pos], true
}

// MarkCurrent advances pos by one: the peeked entry becomes "sent,
// awaiting reply", and its touch time is refreshed.
func (s *Store) MarkCurrent() {
	if s.pos >= len(s.entries) {
		return
	}
	s.entries[s.pos].TouchTime = s.now()
	s.pos++
}

// DropCurrent removes the peeked entry outright, firing its completion
// callback with succeeded. Used for QoS-0 PUBLISH, DISCONNECT, and the
// internally-generated acks whose success is just "handed to the
// transport".
func (s *Store) DropCurrent(succeeded bool) {
	if s.pos >= len(s.entries) {
		return
	}
	e := s.entries[s.pos]
	s.removeAt(s.pos)
	e.complete(succeeded)
}

// PopMarkedBy finds the first entry in [0,pos) with a matching (kind,
// packetID) — packetID is ignored for KindConnect and KindPingReq —
// removes it, and returns it. ok is false if no entry matches.
func (s *Store) PopMarkedBy(kind Kind, packetID uint16) (Entry, bool) {
	limit := s.pos
	if limit > len(s.entries) {
		limit = len(s.entries)
	}
	for i := 0; i < limit; i++ {
		e := s.entries[i]
		if e.Kind != kind {
			continue
		}
		if kind != KindConnect && kind != KindPingReq && e.PacketID != packetID {
			continue
		}
		s.removeAt(i)
		if i < s.pos {
			s.pos--
		}
		return e, true
	}
	return Entry{}, false
}

// Shift removes and returns entries[0] regardless of position; used to
// flush the queue on failure or reconnect.
func (s *Store) Shift() (Entry, bool) {
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	e := s.entries[0]
	s.removeAt(0)
	if s.pos > 0 {
		s.pos--
	}
	return e, true
}

// Flush drains every entry, firing each completion callback with
// succeeded=false.
func (s *Store) Flush() {
	for {
		e, ok := s.Shift()
		if !ok {
			return
		}
		e.complete(false)
	}
}

// UnmarkAll resets pos to 0 so every entry becomes unsent again; used
// after a session-preserving reconnect so queued packets retransmit.
func (s *Store) UnmarkAll() {
	s.pos = 0
}

// HasCurrent reports whether there is an unsent entry to encode.
func (s *Store) HasCurrent() bool {
	return s.pos < len(s.entries)
}

// IsQueueable reports whether another entry could be appended right now.
func (s *Store) IsQueueable() bool {
	return len(s.entries) < cap(s.entries)
}

// SetKeepAlive updates the whole-store keep-alive window; used when a
// CONNECT packet's keep-alive differs from the value the store was built
// with.
func (s *Store) SetKeepAlive(secs uint32) { s.keepAlive = secs }

// Touch refreshes the whole-store activity timestamp; called whenever any
// non-initial I/O happens on the store's side of the connection.
func (s *Store) Touch() {
	s.lastTouch = s.now()
}

// GetTimeout inspects the oldest awaiting-reply entry's deadline
// (touch+timeout) if any, else the whole-store last_touch+keepAlive if
// keep-alive is enabled. It returns how many awaiting entries are already
// past their deadline, the time remaining until the next deadline, and
// whether any deadline is active at all.
func (s *Store) GetTimeout(now clock.Time) (expired int, remaining clock.Time, hasDeadline bool) {
	if s.timeout != 0 {
		limit := s.pos
		if limit > len(s.entries) {
			limit = len(s.entries)
		}
		for i := 0; i < limit; i++ {
			deadline := s.entries[i].TouchTime.Plus(s.timeout)
			r, elapsed := clock.Remaining(deadline, now)
			if elapsed {
				expired++
				continue
			}
			if !hasDeadline || r.Before(remaining) {
				remaining = r
				hasDeadline = true
			}
		}
		if expired > 0 {
			return expired, clock.Time{}, true
		}
		if hasDeadline {
			return 0, remaining, true
		}
	}

	if s.keepAlive == 0 {
		return 0, clock.Time{}, false
	}
	deadline := s.lastTouch.Plus(s.keepAlive)
	r, elapsed := clock.Remaining(deadline, now)
	if elapsed {
		return 0, clock.Time{}, true
	}
	return 0, r, true
}

func (s *Store) now() clock.Time {
	if s.getTime == nil {
		return clock.Time{}
	}
	return s.getTime()
}

func (s *Store) removeAt(i int) {
	copy(s.entries[i:], s.entries[i+1:])
	s.entries = s.entries[:len(s.entries)-1]
}
