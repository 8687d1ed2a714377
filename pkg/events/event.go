package events

// EventType classifies array mutations.
type EventType int

const (
	EvSet     EventType = iota // Slot assigned
	EvUnset                    // Slot removed without compaction
	EvReplace                  // Matching slots overwritten
	EvPop                      // Tail slot removed
	EvShift                    // Slot removed, tail compacted
	EvRemove                   // Matching slots removed, tail compacted
	EvClear                    // Whole array or scope dropped
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvSet:
		return "set"
	case EvUnset:
		return "unset"
	case EvReplace:
		return "replace"
	case EvPop:
		return "pop"
	case EvShift:
		return "shift"
	case EvRemove:
		return "remove"
	case EvClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Event describes one mutation of a named array.
type Event struct {
	Type  EventType
	Scope string // Scope name ("character", "global", ...)
	Owner int64  // Owner id within the scope, 0 for global scopes
	Name  string // Variable name including scope prefix and type suffix
	Index uint32 // Affected index (set/unset/pop/shift)
	Count uint32 // Slots affected (replace/remove/clear)
	Value string // Value written or removed, as script output renders it
}

// Topic returns the namespace the event belongs to.
func (ev Event) Topic() Topic {
	return Topic{Scope: ev.Scope, Owner: ev.Owner}
}
