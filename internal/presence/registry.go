package presence

import (
	"sort"
	"sync"
)

type set map[string]struct{}

// entry is the arena row for one live connection
type entry struct {
	userID uint
	rooms  set
}

// Registry maps user identities and rooms to live connection ids.
// Every mutation happens under one lock, so a connection belongs to at most one user
// and lookups see every join/leave that completed before them. Nothing here blocks on I/O.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry
	users map[uint]set
	rooms map[string]set
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*entry),
		users: make(map[uint]set),
		rooms: make(map[string]set),
	}
}

// Join associates connID with userID. Joining again under the same user is a no-op;
// joining under another user moves the connection, keeping its rooms.
func (r *Registry) Join(connID string, userID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if ok && e.userID == userID {
		return
	}
	if ok {
		r.removeFromUser(connID, e.userID)
		e.userID = userID
	} else {
		e = &entry{userID: userID, rooms: make(set)}
		r.conns[connID] = e
	}

	conns, ok := r.users[userID]
	if !ok {
		conns = make(set)
		r.users[userID] = conns
	}
	conns[connID] = struct{}{}
}

// Leave forgets connID entirely. Unknown ids are ignored since disconnect races are expected.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return
	}
	r.removeFromUser(connID, e.userID)
	for roomID := range e.rooms {
		r.removeFromRoom(connID, roomID)
	}
	delete(r.conns, connID)
}

// JoinRoom adds a registered connection to roomID. It returns false, changing nothing,
// when the connection is unknown.
func (r *Registry) JoinRoom(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	e.rooms[roomID] = struct{}{}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(set)
		r.rooms[roomID] = members
	}
	members[connID] = struct{}{}
	return true
}

func (r *Registry) LeaveRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(e.rooms, roomID)
	r.removeFromRoom(connID, roomID)
}

// ConnectionsFor returns the live connections of userID, sorted. Empty when offline.
func (r *Registry) ConnectionsFor(userID uint) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sorted(r.users[userID])
}

// UserOf returns the user a connection is joined to
func (r *Registry) UserOf(connID string) (uint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return 0, false
	}
	return e.userID, true
}

func (r *Registry) ConnectionsInRoom(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sorted(r.rooms[roomID])
}

// ConnectionsInRooms returns the de-duplicated union of the members of roomIDs, sorted
func (r *Registry) ConnectionsInRooms(roomIDs ...string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	union := make(set)
	for _, roomID := range roomIDs {
		for connID := range r.rooms[roomID] {
			union[connID] = struct{}{}
		}
	}
	return sorted(union)
}

type Stats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Users: len(r.users), Connections: len(r.conns), Rooms: len(r.rooms)}
}

// callers hold r.mu

func (r *Registry) removeFromUser(connID string, userID uint) {
	conns := r.users[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.users, userID)
	}
}

func (r *Registry) removeFromRoom(connID, roomID string) {
	members := r.rooms[roomID]
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

func sorted(s set) []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
