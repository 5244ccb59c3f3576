package sync

import "time"

// Outcome describes what a reconciliation decided.
type Outcome string

const (
	// OutcomeAdoptedRemote means the remote document replaced the local list.
	OutcomeAdoptedRemote Outcome = "adopted_remote"

	// OutcomePublishedLocal means local state was newer and was pushed.
	OutcomePublishedLocal Outcome = "published_local"

	// OutcomeRemoteUnavailable means the remote could not be read, so local
	// state was pushed.
	OutcomeRemoteUnavailable Outcome = "remote_unavailable"

	// OutcomeRemoteUnreadable means the remote holds a document that could not
	// be read, so nothing was published over it.
	OutcomeRemoteUnreadable Outcome = "remote_unreadable"

	// OutcomeLocalOnly means no remote store is configured.
	OutcomeLocalOnly Outcome = "local_only"
)

// Result summarizes one reconciliation.
type Result struct {
	Outcome      Outcome
	LocalUpdate  string
	RemoteUpdate string
	Published    bool
	Err          error
	StartedAt    time.Time
	Duration     time.Duration
}

// EventKind identifies a coordinator event.
type EventKind string

const (
	EventLocalPersisted    EventKind = "local_persisted"
	EventAdoptedRemote     EventKind = "adopted_remote"
	EventPublished         EventKind = "published"
	EventPublishFailed     EventKind = "publish_failed"
	EventRemoteUnavailable EventKind = "remote_unavailable"
	EventRemoteUnreadable  EventKind = "remote_unreadable"
)

// Event is delivered to observers after state changes or sync attempts.
type Event struct {
	Kind       EventKind `json:"kind"`
	At         time.Time `json:"at"`
	LastUpdate string    `json:"last_update,omitempty"`
	Categories int       `json:"categories"`
	Err        string    `json:"error,omitempty"`
}

// Observer receives coordinator events. It is called synchronously without
// coordinator locks held and must not block for long.
type Observer func(Event)

// Subscribe registers an observer.
func (c *Coordinator) Subscribe(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Coordinator) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	c.obsMu.RLock()
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.obsMu.RUnlock()

	for _, o := range observers {
		o(ev)
	}
}
