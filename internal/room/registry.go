package room

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/romashorodok/meeting-signaling/pkg/protocol"
	"github.com/romashorodok/meeting-signaling/pkg/variables"
	"go.uber.org/fx"
)

const DefaultCapacity = 6

type Participant struct {
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"userName"`
	ConnectionID string    `json:"socketId"`
	InstanceID   string    `json:"serverInstanceId"`
	JoinedAt     time.Time `json:"joinedAt"`

	seq uint64
}

type JoinOptions struct {
	ConnectionID string
	DisplayName  string
}

type JoinResult struct {
	// Existing is the local participant list at admission time, joiner excluded, in join order.
	Existing []Participant
	// Replaced is set when the user id was already present under another connection.
	Replaced *Participant
	Host     string
	Created  bool
}

type participantKey struct {
	roomID string
	userID string
}

type roomState struct {
	createdAt    time.Time
	locked       bool
	host         string
	participants map[string]*Participant
}

func (r *roomState) ordered() []Participant {
	result := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

// Registry is the process-local view of rooms. Other instances only see its effects through
// broadcasts relayed by the backplane.
type Registry struct {
	mu sync.Mutex

	capacity    int
	instanceID  string
	logger      *slog.Logger
	now         func() time.Time
	seq         uint64
	rooms       map[string]*roomState
	connections map[string]participantKey
}

func (r *Registry) Join(roomID, userID string, opts JoinOptions) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exist := r.rooms[roomID]
	if exist {
		_, rejoin := state.participants[userID]
		if state.locked && state.host != userID {
			return JoinResult{}, ErrRoomLocked
		}
		if !rejoin && len(state.participants) >= r.capacity {
			return JoinResult{}, ErrRoomFull
		}
	}

	if key, bound := r.connections[opts.ConnectionID]; bound && key != (participantKey{roomID, userID}) {
		r.logger.Warn("connection bound to another participant, removing stale entry",
			slog.String("connection", opts.ConnectionID),
			slog.String("room", key.roomID),
			slog.String("user", key.userID),
		)
		r.removeLocked(key.roomID, key.userID)
		state, exist = r.rooms[roomID]
	}

	result := JoinResult{}
	if !exist {
		state = &roomState{
			createdAt:    r.now(),
			host:         userID,
			participants: make(map[string]*Participant),
		}
		r.rooms[roomID] = state
		result.Created = true
		r.logger.Debug("room created", slog.String("room", roomID))
	}

	if previous, ok := state.participants[userID]; ok && previous.ConnectionID != opts.ConnectionID {
		replaced := *previous
		result.Replaced = &replaced
		delete(r.connections, previous.ConnectionID)
	}

	r.seq++
	state.participants[userID] = &Participant{
		UserID:       userID,
		DisplayName:  opts.DisplayName,
		ConnectionID: opts.ConnectionID,
		InstanceID:   r.instanceID,
		JoinedAt:     r.now(),
		seq:          r.seq,
	}
	r.connections[opts.ConnectionID] = participantKey{roomID, userID}

	for _, p := range state.ordered() {
		if p.UserID != userID {
			result.Existing = append(result.Existing, p)
		}
	}
	if result.Existing == nil {
		result.Existing = []Participant{}
	}
	result.Host = state.host

	r.logger.Debug("participant joined",
		slog.String("room", roomID),
		slog.String("user", userID),
		slog.Int("size", len(state.participants)),
	)
	return result, nil
}

func (r *Registry) removeLocked(roomID, userID string) (Participant, bool) {
	state, exist := r.rooms[roomID]
	if !exist {
		return Participant{}, false
	}
	p, exist := state.participants[userID]
	if !exist {
		return Participant{}, false
	}

	delete(state.participants, userID)
	if key, ok := r.connections[p.ConnectionID]; ok && key == (participantKey{roomID, userID}) {
		delete(r.connections, p.ConnectionID)
	}

	if len(state.participants) == 0 {
		delete(r.rooms, roomID)
		r.logger.Debug("room deleted (empty)", slog.String("room", roomID))
		return *p, true
	}

	if state.host == userID {
		// Earliest remaining joiner inherits the host role.
		state.host = state.ordered()[0].UserID
	}
	return *p, true
}

// Leave removes the participant. Unknown rooms or users are a no-op.
func (r *Registry) Leave(roomID, userID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(roomID, userID)
}

// LeaveConnection removes the participant only while the entry still belongs to connectionID.
func (r *Registry) LeaveConnection(roomID, userID, connectionID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exist := r.rooms[roomID]
	if !exist {
		return Participant{}, false
	}
	if p, ok := state.participants[userID]; !ok || p.ConnectionID != connectionID {
		return Participant{}, false
	}
	return r.removeLocked(roomID, userID)
}

func (r *Registry) Get(roomID, userID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exist := r.rooms[roomID]
	if !exist {
		return Participant{}, false
	}
	p, exist := state.participants[userID]
	if !exist {
		return Participant{}, false
	}
	return *p, true
}

func (r *Registry) ByConnection(connectionID string) (roomID string, p Participant, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, exist := r.connections[connectionID]
	if !exist {
		return "", Participant{}, false
	}
	return key.roomID, *r.rooms[key.roomID].participants[key.userID], true
}

func (r *Registry) List(roomID string) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exist := r.rooms[roomID]
	if !exist {
		return []Participant{}
	}
	return state.ordered()
}

func (r *Registry) Size(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, exist := r.rooms[roomID]; exist {
		return len(state.participants)
	}
	return 0
}

func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) Host(roomID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, exist := r.rooms[roomID]; exist {
		return state.host
	}
	return ""
}

// SetLocked stores the lock flag. It reports false when the room has no local participants.
func (r *Registry) SetLocked(roomID string, locked bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exist := r.rooms[roomID]
	if !exist {
		return false
	}
	state.locked = locked
	return true
}

func (r *Registry) Locked(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, exist := r.rooms[roomID]; exist {
		return state.locked
	}
	return false
}

func (r *Registry) Capacity() int {
	return r.capacity
}

type RoomStats struct {
	RoomID           string `json:"roomId"`
	ParticipantCount int    `json:"participantCount"`
	AgeSeconds       int64  `json:"ageSeconds"`
	Locked           bool   `json:"locked"`
	HostUserID       string `json:"hostUserId"`
	InstanceID       string `json:"serverInstanceId"`
}

type Snapshot struct {
	InstanceID        string      `json:"instanceId"`
	ActiveRooms       int         `json:"activeRooms"`
	TotalParticipants int         `json:"totalParticipants"`
	Rooms             []RoomStats `json:"rooms"`
}

func (r *Registry) Stats() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	snapshot := Snapshot{
		InstanceID:  r.instanceID,
		ActiveRooms: len(r.rooms),
		Rooms:       make([]RoomStats, 0, len(r.rooms)),
	}
	for roomID, state := range r.rooms {
		snapshot.TotalParticipants += len(state.participants)
		snapshot.Rooms = append(snapshot.Rooms, RoomStats{
			RoomID:           roomID,
			ParticipantCount: len(state.participants),
			AgeSeconds:       int64(now.Sub(state.createdAt) / time.Second),
			Locked:           state.locked,
			HostUserID:       state.host,
			InstanceID:       r.instanceID,
		})
	}
	sort.Slice(snapshot.Rooms, func(i, j int) bool { return snapshot.Rooms[i].RoomID < snapshot.Rooms[j].RoomID })
	return snapshot
}

type RegistryOption struct {
	Capacity   int
	InstanceID string
	Logger     *slog.Logger
	Clock      func() time.Time
}

func New(option RegistryOption) *Registry {
	if option.Capacity <= 0 {
		option.Capacity = DefaultCapacity
	}
	if option.Logger == nil {
		option.Logger = slog.Default()
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	return &Registry{
		capacity:    option.Capacity,
		instanceID:  option.InstanceID,
		logger:      option.Logger.With(slog.String("component", "room-registry")),
		now:         option.Clock,
		rooms:       make(map[string]*roomState),
		connections: make(map[string]participantKey),
	}
}

type NewRegistryParams struct {
	fx.In

	Instance protocol.InstanceID
	Logger   *slog.Logger
}

func NewRegistry(params NewRegistryParams) *Registry {
	return New(RegistryOption{
		Capacity:   variables.IntEnv(variables.ROOM_CAPACITY_NAME, variables.ROOM_CAPACITY_DEFAULT),
		InstanceID: string(params.Instance),
		Logger:     params.Logger,
	})
}
