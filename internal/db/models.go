package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB is a JSON object column: jsonb on Postgres, TEXT on SQLite.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(data, j)
}

// RunRecord is one persisted execution record. RunID is unique; writing
// the same record twice keeps the first row.
type RunRecord struct {
	RunID          string    `db:"run_id"`
	ActivityID     string    `db:"activity_id"`
	TaskKind       string    `db:"task_kind"`
	ModelID        string    `db:"model_id"`
	Provider       string    `db:"provider"`
	Budget         int       `db:"budget"`
	ReasoningMode  bool      `db:"reasoning_mode"`
	TokensUsed     int       `db:"tokens_used"`
	FinishReason   string    `db:"finish_reason"`
	Status         string    `db:"status"`
	ErrorMessage   string    `db:"error_message"`
	LatencyMs      int64     `db:"latency_ms"`
	Repaired       bool      `db:"repaired"`
	EstimatedInput int       `db:"estimated_input_tokens"`
	CostUSD        float64   `db:"cost_usd"`
	Metadata       JSONB     `db:"metadata"`
	CreatedAt      time.Time `db:"created_at"`
}
