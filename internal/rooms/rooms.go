// Package rooms implements the room registry: a mapping of room id to its
// peer membership set, admission limits and empty-room reaping.
package rooms

import (
	"errors"
	"sync"
	"time"
)

// ErrCapacity is returned by GetOrCreate when the registry already holds
// the configured maximum number of rooms.
var ErrCapacity = errors.New("capacity")

// ErrRoomFull is returned by Join when the room already holds the
// configured maximum number of peers and peerID is not already a member.
var ErrRoomFull = errors.New("room-full")

type room struct {
	id        string
	members   map[string]struct{}
	createdAt time.Time
}

// Store is the process-wide room registry. All mutations go through its
// methods; callers never touch room internals directly.
type Store struct {
	mu              sync.RWMutex
	rooms           map[string]*room
	maxPeersPerRoom int
	maxRooms        int
}

func NewStore(maxPeersPerRoom, maxRooms int) *Store {
	return &Store{
		rooms:           make(map[string]*room),
		maxPeersPerRoom: maxPeersPerRoom,
		maxRooms:        maxRooms,
	}
}

// GetOrCreate ensures a room record exists for roomID, creating it if
// absent. Creation fails with ErrCapacity once the registry already holds
// maxRooms rooms.
func (s *Store) GetOrCreate(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(roomID)
}

func (s *Store) getOrCreateLocked(roomID string) error {
	if _, ok := s.rooms[roomID]; ok {
		return nil
	}
	if len(s.rooms) >= s.maxRooms {
		return ErrCapacity
	}
	s.rooms[roomID] = &room{
		id:        roomID,
		members:   make(map[string]struct{}),
		createdAt: time.Now(),
	}
	return nil
}

// Join adds peerID to roomID, creating the room if necessary. Re-joins by
// an existing member never count against maxPeersPerRoom.
func (s *Store) Join(roomID, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.getOrCreateLocked(roomID); err != nil {
		return err
	}
	r := s.rooms[roomID]
	if _, already := r.members[peerID]; !already && len(r.members) >= s.maxPeersPerRoom {
		return ErrRoomFull
	}
	r.members[peerID] = struct{}{}
	return nil
}

// Leave removes peerID from roomID. If the room becomes empty its record
// is removed. Idempotent: leaving a room the peer isn't in, or a room that
// doesn't exist, is a no-op.
func (s *Store) Leave(roomID, peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return
	}
	delete(r.members, peerID)
	if len(r.members) == 0 {
		delete(s.rooms, roomID)
	}
}

// Members returns a snapshot of all peer ids in roomID. Order is
// unspecified and not observable to clients.
func (s *Store) Members(roomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}

// Others returns a snapshot of every peer id in roomID except exceptPeerID.
func (s *Store) Others(roomID, exceptPeerID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		if id != exceptPeerID {
			out = append(out, id)
		}
	}
	return out
}

// Exists reports whether roomID currently has a live room record.
func (s *Store) Exists(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Size returns the current membership count of roomID, or 0 if it doesn't
// exist.
func (s *Store) Size(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rooms[roomID]; ok {
		return len(r.members)
	}
	return 0
}

// RoomCount returns the number of live rooms.
func (s *Store) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Stats summarizes registry occupancy for the control surface.
type Stats struct {
	RoomCount  int `json:"roomCount"`
	MaxRooms   int `json:"maxRooms"`
	PeerCount  int `json:"peerCount"`
}

// GetStats returns a diagnostics snapshot of room occupancy.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{RoomCount: len(s.rooms), MaxRooms: s.maxRooms}
	for _, r := range s.rooms {
		st.PeerCount += len(r.members)
	}
	return st
}
