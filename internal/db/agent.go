package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const agentColumns = `id, scan_id, parent_agent_id, name, agent_type, task, status, llm_config, iteration,
	max_iterations, sandbox_id, final_result, error_message, created_at, started_at, finished_at`

func scanAgent(row rowScanner) (Agent, error) {
	var a Agent
	var parent, finalResult sql.NullString
	var llmConfig string
	var started, finished sql.NullTime
	if err := row.Scan(&a.ID, &a.ScanID, &parent, &a.Name, &a.AgentType, &a.Task, &a.Status, &llmConfig,
		&a.Iteration, &a.MaxIterations, &a.SandboxID, &finalResult, &a.ErrorMessage, &a.CreatedAt,
		&started, &finished); err != nil {
		return Agent{}, err
	}
	a.ParentAgentID = parent.String
	a.LLMConfig = json.RawMessage(llmConfig)
	if finalResult.Valid {
		a.FinalResult = json.RawMessage(finalResult.String)
	}
	a.StartedAt = timePtr(started)
	a.FinishedAt = timePtr(finished)
	return a, nil
}

// CreateAgent inserts a pending agent record. ID must be set by the caller.
func (db *DB) CreateAgent(a Agent) (Agent, error) {
	var parent any
	if a.ParentAgentID != "" {
		parent = a.ParentAgentID
	}
	llmConfig := string(a.LLMConfig)
	if strings.TrimSpace(llmConfig) == "" {
		llmConfig = "{}"
	}
	if a.MaxIterations == 0 {
		a.MaxIterations = 200
	}
	out, err := scanAgent(db.QueryRow(
		`INSERT INTO agent (id, scan_id, parent_agent_id, name, agent_type, task, status, llm_config, max_iterations)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING `+agentColumns,
		a.ID, a.ScanID, parent, a.Name, a.AgentType, a.Task, AgentPending, llmConfig, a.MaxIterations,
	))
	if err != nil {
		return Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	return out, nil
}

// GetAgent returns an agent by ID.
func (db *DB) GetAgent(id string) (Agent, bool, error) {
	a, err := scanAgent(db.QueryRow(`SELECT `+agentColumns+` FROM agent WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return Agent{}, false, nil
		}
		return Agent{}, false, fmt.Errorf("get agent: %w", err)
	}
	return a, true, nil
}

// ListAgentsByScan returns a scan's agents in creation order.
func (db *DB) ListAgentsByScan(scanID int64) ([]Agent, error) {
	rows, err := db.Query(`SELECT `+agentColumns+` FROM agent WHERE scan_id = ? ORDER BY created_at, rowid`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return agents, nil
}

// MarkAgentRunning moves a pending agent to running. It reports false when
// the agent is not pending or its scan is no longer running.
func (db *DB) MarkAgentRunning(id string, at time.Time) (bool, error) {
	return db.transition(
		`UPDATE agent SET status = ?, started_at = ?
		 WHERE id = ? AND status = ?
		   AND EXISTS (SELECT 1 FROM scan WHERE scan.id = agent.scan_id AND scan.status = ?)`,
		"start agent", AgentRunning, at, id, AgentPending, ScanRunning,
	)
}

// SetAgentSandbox attaches an execution context to a running agent.
func (db *DB) SetAgentSandbox(id, sandboxID string) error {
	if _, err := db.Exec(`UPDATE agent SET sandbox_id = ? WHERE id = ?`, sandboxID, id); err != nil {
		return fmt.Errorf("set agent sandbox: %w", err)
	}
	return nil
}

// SetAgentIteration records loop progress on a running agent.
func (db *DB) SetAgentIteration(id string, iteration int) error {
	if _, err := db.Exec(`UPDATE agent SET iteration = ? WHERE id = ? AND status = ?`, iteration, id, AgentRunning); err != nil {
		return fmt.Errorf("set agent iteration: %w", err)
	}
	return nil
}

// CompleteAgent stores the final result of a running agent.
func (db *DB) CompleteAgent(id string, result []byte, at time.Time) (bool, error) {
	return db.transition(
		`UPDATE agent SET status = ?, final_result = ?, finished_at = ? WHERE id = ? AND status = ?`,
		"complete agent", AgentCompleted, string(result), at, id, AgentRunning,
	)
}

// FailAgent records an error on a non-terminal agent.
func (db *DB) FailAgent(id, message string, at time.Time) (bool, error) {
	return db.transition(
		`UPDATE agent SET status = ?, error_message = ?, finished_at = ?,
		   started_at = COALESCE(started_at, ?)
		 WHERE id = ? AND status IN (?, ?)`,
		"fail agent", AgentFailed, message, at, at, id, AgentPending, AgentRunning,
	)
}

// CancelAgent cancels a non-terminal agent.
func (db *DB) CancelAgent(id string, at time.Time) (bool, error) {
	return db.transition(
		`UPDATE agent SET status = ?, finished_at = ? WHERE id = ? AND status IN (?, ?)`,
		"cancel agent", AgentCancelled, at, id, AgentPending, AgentRunning,
	)
}

// CancelActiveAgents cancels every pending or running agent of a scan and
// returns how many were cancelled.
func (db *DB) CancelActiveAgents(scanID int64, at time.Time) (int64, error) {
	res, err := db.Exec(
		`UPDATE agent SET status = ?, finished_at = ? WHERE scan_id = ? AND status IN (?, ?)`,
		AgentCancelled, at, scanID, AgentPending, AgentRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel scan agents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel scan agents rows: %w", err)
	}
	return n, nil
}
