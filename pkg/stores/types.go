package stores

import "time"

// MemoryRecord is one key/value pair in the memory service.
type MemoryRecord struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEvent is one recorded command outcome.
type AuditEvent struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	Outcome    string    `json:"outcome"`
	ExitCode   int       `json:"exit_code"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
