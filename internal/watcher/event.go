package watcher

import "time"

// EventType represents the type of file system event
type EventType int

const (
	// EventModified is emitted when a file's contents were written in place
	EventModified EventType = iota
	// EventMoved is emitted when a file is renamed or moved into the watched directory
	EventMoved
	// EventRemoved is emitted when a file is deleted or moved away
	EventRemoved
)

// String returns the string representation of the event type
func (t EventType) String() string {
	switch t {
	case EventModified:
		return "modified"
	case EventMoved:
		return "moved"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event represents a file system event
type Event struct {
	// Type is the kind of event (modified, moved, removed)
	Type EventType

	// Path is the file the event happened to. For moves it is the source path
	// when the backend knows it.
	Path string

	// DestPath is where a moved file ended up (only for move events)
	DestPath string

	// IsDir is set for events about directories
	IsDir bool

	// ModTime is the file's last modification time, when known
	ModTime time.Time
}

// Affects reports whether the event changes the contents of target.
// Writes count when they hit target itself. Moves count when target is the
// destination, which is how editors that save atomically show up.
func (e Event) Affects(target string) bool {
	if e.IsDir {
		return false
	}

	switch e.Type {
	case EventModified:
		return e.Path == target
	case EventMoved:
		return e.DestPath == target
	default:
		return false
	}
}
