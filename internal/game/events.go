package game

import (
	"sortrace/internal/sorting"
)

type EventType string

const (
	EventRoomCreated       EventType = "room_created"
	EventPlayerJoined      EventType = "player_joined"
	EventPlayerLeft        EventType = "player_left"
	EventHostChanged       EventType = "host_changed"
	EventAlgorithmsUpdated EventType = "algorithms_updated"
	EventSettingsUpdated   EventType = "settings_updated"
	EventBetPlaced         EventType = "bet_placed"
	EventRaceStarted       EventType = "race_started"
	EventRaceProgress      EventType = "race_progress"
	EventAlgorithmFinished EventType = "algorithm_finished"
	EventAlgorithmStopped  EventType = "algorithm_stopped"
	EventStepSpeedUpdated  EventType = "step_speed_updated"
	EventRaceResults       EventType = "race_results"
	EventRoomReset         EventType = "room_reset"
	EventPointsReset       EventType = "points_reset"
	EventRoomError         EventType = "room_error"
	EventRoomState         EventType = "room_state"
	EventConnected         EventType = "connected"
	EventPong              EventType = "pong"
)

// Event is one outbound message. Room scopes it for broadcasting.
type Event struct {
	Type EventType   `json:"type"`
	Room string      `json:"room,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// Broadcaster delivers events produced by the manager. Attach and Detach
// keep its room routing in step with room membership.
type Broadcaster interface {
	Broadcast(ev Event)
	SendTo(playerID string, ev Event)
	Attach(playerID, room string)
	Detach(playerID, room string)
}

type RaceStartedMessage struct {
	RaceID     string              `json:"race_id"`
	Dataset    []int               `json:"dataset"`
	Algorithms []sorting.Algorithm `json:"algorithms"`
	Commitment string              `json:"commitment"`
	StepDelay  int                 `json:"step_delay_ms"`
}

type ProgressMessage struct {
	RaceID string          `json:"race_id"`
	States []sorting.State `json:"states"`
}

type AlgorithmDoneMessage struct {
	Algorithm sorting.Algorithm `json:"algorithm"`
	Position  int               `json:"position"`
	Error     string            `json:"error,omitempty"`
	sorting.Counters
}

type HostChangedMessage struct {
	HostID   string `json:"host_id"`
	Username string `json:"username"`
}

type ErrorMessage struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ErrorEvent builds the room_error event for a failed request.
func ErrorEvent(room string, err error) Event {
	return Event{
		Type: EventRoomError,
		Room: room,
		Data: ErrorMessage{Kind: KindOf(err), Message: err.Error()},
	}
}
