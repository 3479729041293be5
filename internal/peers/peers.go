// Package peers implements the peer registry: per-connection records
// (transport handle, display name, current room, activity timestamps,
// liveness flag, per-counterparty ICE queue) and every mutation spec.md
// §4.3 names. Room membership itself is delegated to the rooms registry;
// this package keeps peer records and the reverse transport->id index in
// sync with it under a single lock.
package peers

import (
	"encoding/json"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/modulelabs/signal-relay/internal/idgen"
	"github.com/modulelabs/signal-relay/internal/rooms"
	"github.com/modulelabs/signal-relay/internal/wire"
)

// TransportState mirrors the observable lifecycle of a peer's duplex
// connection (spec.md §3).
type TransportState int

const (
	StateConnecting TransportState = iota
	StateOpen
	StateClosing
	StateClosed
)

// Transport is the per-connection handle a peer record holds. The
// transport package supplies the concrete websocket-backed implementation;
// this package only depends on the interface so registry logic is
// testable without a real socket.
type Transport interface {
	Send(wire.Message) error
	State() TransportState
	Close(code int, reason string) error
}

const maxNameRunes = 50

// Record is a single peer's state. Callers outside this package read it
// only through Registry methods, which serialize access to its mutable
// fields under the registry lock.
type Record struct {
	ID           string
	Name         string
	RoomID       string // "" means none
	LastActivity time.Time
	Alive        bool
	Transport    Transport

	iceQueue map[string][]json.RawMessage
}

// Snapshot is an immutable point-in-time copy of a Record, safe to read
// without holding the registry lock.
type Snapshot struct {
	ID           string
	Name         string
	RoomID       string
	LastActivity time.Time
	Alive        bool
	State        TransportState
}

// Registry is the process-wide peer registry.
type Registry struct {
	mu          sync.RWMutex
	byID        map[string]*Record
	byTransport map[Transport]string
	rooms       *rooms.Store
}

func NewRegistry(roomStore *rooms.Store) *Registry {
	return &Registry{
		byID:        make(map[string]*Record),
		byTransport: make(map[Transport]string),
		rooms:       roomStore,
	}
}

// Create allocates a fresh peer id, stores a record for transport, and
// links transport -> id in the reverse index.
func (r *Registry) Create(t Transport, name string) (*Record, error) {
	id, err := idgen.NewPeerID()
	if err != nil {
		return nil, err
	}
	rec := &Record{
		ID:           id,
		Name:         truncateName(name),
		LastActivity: time.Now(),
		Alive:        true,
		Transport:    t,
		iceQueue:     make(map[string][]json.RawMessage),
	}
	r.mu.Lock()
	r.byID[id] = rec
	r.byTransport[t] = id
	r.mu.Unlock()
	return rec, nil
}

func truncateName(name string) string {
	if name == "" {
		return "Anonymous"
	}
	if utf8.RuneCountInString(name) <= maxNameRunes {
		return name
	}
	runes := []rune(name)
	return string(runes[:maxNameRunes])
}

func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotLocked(rec), true
}

// TransportOf returns the live Transport handle for id, for callers (the
// join handler's reconnection path, the liveness supervisor's eviction
// path) that need to act on the connection itself rather than a snapshot.
func (r *Registry) TransportOf(id string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return rec.Transport, true
}

func (r *Registry) GetByTransport(t Transport) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byTransport[t]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotLocked(r.byID[id]), true
}

func snapshotLocked(rec *Record) Snapshot {
	return Snapshot{
		ID:           rec.ID,
		Name:         rec.Name,
		RoomID:       rec.RoomID,
		LastActivity: rec.LastActivity,
		Alive:        rec.Alive,
		State:        rec.Transport.State(),
	}
}

// UpdateActivity stamps lastActivity with now. Called on every inbound
// frame by the router.
func (r *Registry) UpdateActivity(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[id]; ok {
		rec.LastActivity = time.Now()
		rec.Alive = true
	}
}

// MarkAlive sets the alive flag without touching lastActivity, used by
// the pong handler and by transport-level keepalive replies.
func (r *Registry) MarkAlive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[id]; ok {
		rec.Alive = true
	}
}

// SetName updates a peer's display name (join's optional name field),
// truncating to maxNameRunes.
func (r *Registry) SetName(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[id]; ok {
		rec.Name = truncateName(name)
	}
}

// ResetAliveAll clears the alive flag on every peer; step 2 of the
// heartbeat round (spec.md §4.7).
func (r *Registry) ResetAliveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.byID {
		rec.Alive = false
	}
}

// NotAlive returns a snapshot of every peer whose alive flag is currently
// clear; step 1 of the heartbeat round.
func (r *Registry) NotAlive() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Snapshot
	for _, rec := range r.byID {
		if !rec.Alive {
			out = append(out, snapshotLocked(rec))
		}
	}
	return out
}

// AllOpen returns a snapshot of every peer whose transport is currently
// open; used to send heartbeat pings and the shutdown broadcast.
func (r *Registry) AllOpen() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Snapshot
	for _, rec := range r.byID {
		if rec.Transport.State() == StateOpen {
			out = append(out, snapshotLocked(rec))
		}
	}
	return out
}

// StaleSince returns a snapshot of every peer whose lastActivity is older
// than cutoff; used by the stale sweep.
func (r *Registry) StaleSince(cutoff time.Time) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Snapshot
	for _, rec := range r.byID {
		if rec.LastActivity.Before(cutoff) {
			out = append(out, snapshotLocked(rec))
		}
	}
	return out
}

// JoinRoom moves peer id into roomID, first leaving any prior room (same
// departure semantics as LeaveRoom). It returns the other members already
// in roomID so the caller can build a welcome roster.
func (r *Registry) JoinRoom(id, roomID string) (others []wire.PeerSummary, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return nil, errNotFound
	}
	if rec.RoomID != "" && rec.RoomID != roomID {
		r.rooms.Leave(rec.RoomID, id)
		rec.RoomID = ""
	}
	if err := r.rooms.Join(roomID, id); err != nil {
		return nil, err
	}
	rec.RoomID = roomID

	ids := r.rooms.Others(roomID, id)
	out := make([]wire.PeerSummary, 0, len(ids))
	for _, oid := range ids {
		if orec, ok := r.byID[oid]; ok {
			out = append(out, wire.PeerSummary{ID: orec.ID, Name: orec.Name})
		}
	}
	return out, nil
}

// LeaveRoom clears id's room membership. Returns the room it left and
// whether it was in one.
func (r *Registry) LeaveRoom(id string) (roomID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, found := r.byID[id]
	if !found || rec.RoomID == "" {
		return "", false
	}
	roomID = rec.RoomID
	r.rooms.Leave(roomID, id)
	rec.RoomID = ""
	return roomID, true
}

// Remove deletes the peer record and reverse index entry, leaving its
// room first if it was in one. It returns a snapshot of the record as it
// was just before removal (including its room, if any) so the caller can
// broadcast peer-left.
func (r *Registry) Remove(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return Snapshot{}, false
	}
	snap := snapshotLocked(rec)
	if rec.RoomID != "" {
		r.rooms.Leave(rec.RoomID, id)
	}
	delete(r.byID, id)
	delete(r.byTransport, rec.Transport)
	return snap, true
}

// RemoveIfTransport removes id only if its current transport is still t,
// atomically with the check. This guards the race between a connection's
// own close-cleanup and a racing Reconnect call that may have already
// re-homed id onto a fresh transport: whichever happens first wins, and
// the loser is a safe no-op rather than evicting a live reconnection.
func (r *Registry) RemoveIfTransport(id string, t Transport) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok || rec.Transport != t {
		return Snapshot{}, false
	}
	snap := snapshotLocked(rec)
	if rec.RoomID != "" {
		r.rooms.Leave(rec.RoomID, id)
	}
	delete(r.byID, id)
	delete(r.byTransport, rec.Transport)
	return snap, true
}

// SendTo encodes and enqueues msg on id's transport if it is open.
// Delivery is best-effort; a closed or absent transport returns false
// without raising.
func (r *Registry) SendTo(id string, msg wire.Message) bool {
	r.mu.RLock()
	rec, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok || rec.Transport.State() != StateOpen {
		return false
	}
	return rec.Transport.Send(msg) == nil
}

// Broadcast sends msg to every other member of roomID except exceptPeerID.
func (r *Registry) Broadcast(roomID, exceptPeerID string, msg wire.Message) {
	for _, id := range r.rooms.Others(roomID, exceptPeerID) {
		r.SendTo(id, msg)
	}
}

// QueueICE appends candidate to recipientID's queue for counterparty
// fromID.
func (r *Registry) QueueICE(recipientID, fromID string, candidate json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[recipientID]; ok {
		rec.iceQueue[fromID] = append(rec.iceQueue[fromID], candidate)
	}
}

// DrainICE atomically returns and clears recipientID's queued candidates
// from fromID. Draining an empty or absent queue is a no-op that returns
// nil, so dual triggers (explicit ready-for-candidates and the implicit
// answer-forward drain) are safe to call redundantly.
func (r *Registry) DrainICE(recipientID, fromID string) []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[recipientID]
	if !ok {
		return nil
	}
	q := rec.iceQueue[fromID]
	if len(q) == 0 {
		return nil
	}
	delete(rec.iceQueue, fromID)
	return q
}

// Reconnect re-homes the peer record oldID onto newTransport, provided
// oldID's current transport is closed. It also drops the registry entry
// for placeholderID (the fresh id minted for the new connection before
// the client announced its prior identity), since the reconnecting
// connection now speaks for oldID instead. Returns false if oldID is
// unknown or its transport isn't closed.
func (r *Registry) Reconnect(oldID string, newTransport Transport, placeholderID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[oldID]
	if !ok || rec.Transport.State() != StateClosed {
		return Snapshot{}, false
	}
	if placeholder, ok := r.byID[placeholderID]; ok {
		delete(r.byTransport, placeholder.Transport)
		delete(r.byID, placeholderID)
	}
	delete(r.byTransport, rec.Transport)
	rec.Transport = newTransport
	rec.Alive = true
	rec.LastActivity = time.Now()
	r.byTransport[newTransport] = oldID
	return snapshotLocked(rec), true
}

// Count returns the number of live peer records.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshots returns a point-in-time copy of every peer record, for the
// control surface's registry roster.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, snapshotLocked(rec))
	}
	return out
}

// errNotFound is returned by JoinRoom when id has no record (can only
// happen if the caller raced a Remove; never user-visible as-is).
var errNotFound = notFoundErr{}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "peer not found" }
