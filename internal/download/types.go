package download

// TaskType classifies what a download task fetches.
type TaskType string

const (
	TypeModel        TaskType = "Model"
	TypeEngine       TaskType = "Engine"
	TypeMisc         TaskType = "Misc"
	TypeCudaToolkit  TaskType = "CudaToolkit"
	TypeCortex       TaskType = "Cortex"
	TypeEnvironments TaskType = "Environments"
)

// Status is the lifecycle state of a task or item.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
	StatusError      Status = "Error"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

// Item is one file of a task. Bytes and DownloadedBytes are updated in place
// while the transfer runs; zero Bytes means the size is unknown.
type Item struct {
	ID              string `json:"id"`
	URL             string `json:"download_url"`
	LocalPath       string `json:"local_path"`
	Checksum        string `json:"checksum,omitempty"`
	Bytes           int64  `json:"bytes,omitempty"`
	DownloadedBytes int64  `json:"downloaded_bytes,omitempty"`
}

// Task is a unit of work made of one or more items.
type Task struct {
	ID     string   `json:"id"`
	Type   TaskType `json:"type"`
	Status Status   `json:"status"`
	Items  []Item   `json:"items"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (t Task) Clone() Task {
	out := t
	out.Items = append([]Item(nil), t.Items...)
	return out
}

// SetStatus applies s unless the task already reached a terminal state.
func (t *Task) SetStatus(s Status) bool {
	if t.Status.Terminal() {
		return false
	}
	t.Status = s
	return true
}

// EventType names a download lifecycle event on the event bus.
type EventType string

const (
	EventStarted EventType = "DownloadStarted"
	EventUpdated EventType = "DownloadUpdated"
	EventSuccess EventType = "DownloadSuccess"
	EventStopped EventType = "DownloadStopped"
	EventError   EventType = "DownloadError"
)

// EventTypes lists every download event type, for subscribers that want all of them.
var EventTypes = []EventType{EventStarted, EventUpdated, EventSuccess, EventStopped, EventError}

// Event is the payload broadcast for each transition. Task is a snapshot.
type Event struct {
	Type EventType `json:"type"`
	Task Task      `json:"task"`
}

// Publisher receives download events. Implementations must not block.
type Publisher interface {
	Publish(topic string, payload any)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}
