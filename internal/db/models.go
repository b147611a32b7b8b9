package db

import (
	"encoding/json"
	"time"
)

// ScanStatus is the lifecycle state of a scan.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanCancelled ScanStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s ScanStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed || s == ScanCancelled
}

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentPending   AgentStatus = "pending"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
	AgentCancelled AgentStatus = "cancelled"
)

// Terminal reports whether the agent record is final.
func (s AgentStatus) Terminal() bool {
	return s == AgentCompleted || s == AgentFailed || s == AgentCancelled
}

// Project groups targets and scans for one owner.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Target is something a scan runs against.
type Target struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Scan is one assessment run against a target.
type Scan struct {
	ID           int64           `json:"id"`
	ProjectID    int64           `json:"project_id"`
	TargetID     int64           `json:"target_id"`
	CreatedBy    string          `json:"created_by"`
	Status       ScanStatus      `json:"status"`
	Config       json.RawMessage `json:"config"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// Agent is a unit of delegated work nested under a scan.
type Agent struct {
	ID            string          `json:"id"`
	ScanID        int64           `json:"scan_id"`
	ParentAgentID string          `json:"parent_agent_id,omitempty"`
	Name          string          `json:"name"`
	AgentType     string          `json:"agent_type"`
	Task          string          `json:"task"`
	Status        AgentStatus     `json:"status"`
	LLMConfig     json.RawMessage `json:"llm_config"`
	Iteration     int             `json:"iteration"`
	MaxIterations int             `json:"max_iterations"`
	SandboxID     string          `json:"sandbox_id,omitempty"`
	FinalResult   json.RawMessage `json:"final_result,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// Report records one rendering of a scan report.
type Report struct {
	ID           int64      `json:"id"`
	ScanID       int64      `json:"scan_id"`
	Format       string     `json:"format"`
	Status       string     `json:"status"`
	Filename     string     `json:"filename"`
	SizeBytes    int64      `json:"size_bytes"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	GeneratedAt  *time.Time `json:"generated_at,omitempty"`
}

// Report statuses.
const (
	ReportPending    = "pending"
	ReportGenerating = "generating"
	ReportCompleted  = "completed"
	ReportFailed     = "failed"
)
