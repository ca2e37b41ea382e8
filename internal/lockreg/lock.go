package lockreg

import "encoding/json"

// Lock status values. READING and WRITING share the same exclusion rule
// but are preserved as distinct states for observers.
const (
	StatusReading = "READING"
	StatusWriting = "WRITING"
)

// LockTTLMillis is how long a lock stays active without renewal.
const LockTTLMillis int64 = 300_000

// Lock is one claim on a file within a namespace.
type Lock struct {
	FilePath  string `json:"file_path"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Status    string `json:"status"`
	AgentHead string `json:"agent_head"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Expiry    int64  `json:"expiry"`
}

// Active reports whether the lock is visible at the given instant.
// A lock exactly at its expiry is already gone.
func (l Lock) Active(nowMs int64) bool {
	return nowMs < l.Expiry
}

func (l Lock) marshal() (string, error) {
	b, err := json.Marshal(l)
	return string(b), err
}

func unmarshalLock(raw string) (Lock, error) {
	var l Lock
	err := json.Unmarshal([]byte(raw), &l)
	return l, err
}
