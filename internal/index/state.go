package index

// State is a phase of the build state machine.
type State int

const (
	StateIdle State = iota
	StateLocking
	StateScanning
	StateChunking
	StateEmbedding
	StateWriting
	StateVerifying
	StateFailed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocking:
		return "locking"
	case StateScanning:
		return "scanning"
	case StateChunking:
		return "chunking"
	case StateEmbedding:
		return "embedding"
	case StateWriting:
		return "writing"
	case StateVerifying:
		return "verifying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Progress is reported to observers on every state change and as work
// advances within Chunking and Embedding.
type Progress struct {
	State   State
	Current int
	Total   int
	Message string
}

// ProgressFunc receives Progress updates. It is called from the building
// goroutine and must not block.
type ProgressFunc func(Progress)
