package statemanager

import "time"

// Operation represents a tracked unit of asynchronous work
type Operation struct {
	ID        string     `json:"id" gorm:"primaryKey;type:uuid"`
	Type      string     `json:"type" gorm:"size:255;not null"`
	Status    Status     `json:"status" gorm:"size:16;not null;index:idx_operations_status_started,priority:1"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null"`
	StartedAt *time.Time `json:"started_at,omitempty" gorm:"index:idx_operations_status_started,priority:2"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null"`
}

// TableName implements the gorm tabler interface.
func (Operation) TableName() string { return "operations" }

// Status represents the lifecycle state of an operation
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// transitions is the complete lifecycle graph. Statuses absent from a
// target set can never be reached from that source.
var transitions = map[Status]map[Status]struct{}{
	StatusPending: {StatusRunning: {}},
	StatusRunning: {StatusSuccess: {}, StatusFailed: {}},
	StatusSuccess: {},
	StatusFailed:  {},
}

// Allowed reports whether an operation in status current may move to requested.
func Allowed(current, requested Status) bool {
	next, ok := transitions[current]
	if !ok {
		return false
	}
	_, ok = next[requested]
	return ok
}

// Valid reports whether s is one of the known lifecycle statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Statuses returns every lifecycle status in graph order.
func Statuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusSuccess, StatusFailed}
}

// OperationSummary is the representation returned when an operation is created
type OperationSummary struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status Status `json:"status"`
}

// Summary returns the creation view of op.
func (op *Operation) Summary() OperationSummary {
	return OperationSummary{ID: op.ID, Type: op.Type, Status: op.Status}
}

// OperationStats provides aggregated counts per status
type OperationStats struct {
	TotalOperations int            `json:"total_operations"`
	ByStatus        map[Status]int `json:"by_status"`
}

// ListFilter narrows a listing of operations
type ListFilter struct {
	Status Status
	Limit  int
}
