package models

import "time"

// Task types and statuses for the durable outbox
const (
	TaskTypeCreateOrder = "CREATE_ORDER"

	TaskStatusPending = "PENDING"
	TaskStatusDone    = "DONE"
	TaskStatusManual  = "MANUAL" // retries exhausted, needs operator attention
)

// Task is a durable outbox row. Downstream work triggered by a successful
// payment (order creation) is enqueued here so its failure can never unwind
// the financial mutation that already committed.
type Task struct {
	ID          string    `json:"id"`
	TaskType    string    `json:"task_type"`
	Payload     string    `json:"payload"` // JSON
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	NextRunAt   time.Time `json:"next_run_at"`
	Status      string    `json:"status"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
