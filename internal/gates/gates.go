// Package gates implements gate definitions, run history, and
// last-run-wins transition authorization, guarded by an allow-listed
// command prefix set plus a forbidden-shell-metacharacter check.
package gates

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/agentcoord/kernel/internal/changelog"
	"github.com/agentcoord/kernel/internal/clock"
	"github.com/agentcoord/kernel/internal/events"
	"github.com/agentcoord/kernel/internal/kernelerr"
	"github.com/agentcoord/kernel/internal/model"
	"github.com/agentcoord/kernel/internal/store"
	"github.com/google/uuid"
)

// defaultAllowedCommandPrefixes is the built-in gate command allowlist.
var defaultAllowedCommandPrefixes = []string{
	"npm ", "pnpm ", "yarn ", "bun ",
	"pytest ", "jest ", "vitest ", "mocha ",
	"eslint ", "tsc ", "prettier ",
	"cargo ", "go ", "make ", "docker ", "kubectl ",
}

// forbiddenChars is the shell-metachar set a gate command must not
// contain.
const forbiddenChars = ";&|`$(){}[]<>\\!\n"

// ValidateCommand enforces the allow-listed-prefix-plus-no-metachar rule
// for a gate command, against the built-in default allowlist.
func ValidateCommand(command string) error {
	return validateCommandAgainst(command, defaultAllowedCommandPrefixes)
}

func validateCommandAgainst(command string, prefixes []string) error {
	if command == "" {
		return kernelerr.Validation("command is required")
	}
	if strings.ContainsAny(command, forbiddenChars) {
		return kernelerr.Validation("command contains a forbidden character")
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(command, prefix) {
			return nil
		}
	}
	return kernelerr.Validation("command must start with one of the allow-listed tools")
}

// TaskExists satisfies changelog.TaskExists-shaped dependency checks;
// gates are validated against an injected function the same way
// changelog is, avoiding an import cycle with internal/kanban.
type TaskExists func(taskID string) (bool, error)

// Evaluator defines gates, records their runs, and derives transition
// authorization.
type Evaluator struct {
	store      *store.Store
	clock      clock.Clock
	bus        *events.Bus
	taskExists TaskExists
	allowlist  []string // nil means "use defaultAllowedCommandPrefixes"
}

// New constructs a GateEvaluator.
func New(s *store.Store, c clock.Clock, b *events.Bus, taskExists TaskExists) *Evaluator {
	return &Evaluator{store: s, clock: c, bus: b, taskExists: taskExists}
}

// SetAllowlist overrides the gate command prefix allowlist, for the
// optional kernel.yaml override. An empty slice restores the built-in
// default.
func (e *Evaluator) SetAllowlist(prefixes []string) {
	e.allowlist = prefixes
}

func (e *Evaluator) validateCommand(command string) error {
	if len(e.allowlist) == 0 {
		return ValidateCommand(command)
	}
	return validateCommandAgainst(command, e.allowlist)
}

// DefineInput is the input to Define.
type DefineInput struct {
	TaskID        string
	GateType      model.GateType
	Command       string
	TriggerStatus model.TaskStatus
	Required      *bool
}

// Define validates and persists a Gate; it publishes nothing by itself.
func (e *Evaluator) Define(input DefineInput) (model.Gate, error) {
	if err := e.validateCommand(input.Command); err != nil {
		return model.Gate{}, err
	}
	if !validGateType(input.GateType) {
		return model.Gate{}, kernelerr.Validation("invalid gateType %q", input.GateType)
	}
	if e.taskExists != nil {
		ok, err := e.taskExists(input.TaskID)
		if err != nil {
			return model.Gate{}, fmt.Errorf("failed to check task existence: %w", err)
		}
		if !ok {
			return model.Gate{}, kernelerr.NotFound("task %s does not exist", input.TaskID)
		}
	}

	required := true
	if input.Required != nil {
		required = *input.Required
	}

	g := model.Gate{
		ID:            uuid.New().String(),
		TaskID:        input.TaskID,
		GateType:      input.GateType,
		Command:       input.Command,
		TriggerStatus: input.TriggerStatus,
		Required:      required,
		CreatedAt:     e.clock.NowMillis(),
	}

	err := e.store.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO gates (id, task_id, gate_type, command, trigger_status, required, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			g.ID, g.TaskID, string(g.GateType), g.Command, string(g.TriggerStatus), boolToInt(g.Required), g.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert gate: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Gate{}, err
	}

	return g, nil
}

func validGateType(t model.GateType) bool {
	switch t {
	case model.GateLint, model.GateTest, model.GateBuild, model.GateReview, model.GateCustom:
		return true
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RecordRunInput is the input to RecordRun.
type RecordRunInput struct {
	GateID     string
	AgentID    string
	Passed     bool
	Output     string
	DurationMs *int64
}

// RecordRun requires the gate to exist, clips output, persists an
// immutable GateRun, and publishes gate.run plus gate.passed/gate.failed.
func (e *Evaluator) RecordRun(input RecordRunInput) (model.GateRun, error) {
	if input.AgentID == "" {
		return model.GateRun{}, kernelerr.Validation("agentId is required")
	}

	var taskID string
	err := e.store.DB().QueryRow(`SELECT task_id FROM gates WHERE id = ?`, input.GateID).Scan(&taskID)
	if err == sql.ErrNoRows {
		return model.GateRun{}, kernelerr.NotFound("gate %s not found", input.GateID)
	}
	if err != nil {
		return model.GateRun{}, fmt.Errorf("failed to look up gate: %w", err)
	}

	run := model.GateRun{
		ID:         uuid.New().String(),
		GateID:     input.GateID,
		TaskID:     taskID,
		AgentID:    input.AgentID,
		Passed:     input.Passed,
		Output:     changelog.Clip(input.Output),
		DurationMs: input.DurationMs,
		CreatedAt:  e.clock.NowMillis(),
	}

	err = e.store.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO gate_runs (id, gate_id, task_id, agent_id, passed, output, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.GateID, run.TaskID, run.AgentID, boolToInt(run.Passed), store.NullString(run.Output),
			store.NullInt64(run.DurationMs), run.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert gate run: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.GateRun{}, err
	}

	e.bus.Publish(events.New(events.TypeGateRun, map[string]interface{}{
		"gateId": run.GateID, "taskId": run.TaskID, "agentId": run.AgentID, "passed": run.Passed,
	}))
	if run.Passed {
		e.bus.Publish(events.New(events.TypeGatePassed, map[string]interface{}{"gateId": run.GateID, "taskId": run.TaskID}))
	} else {
		e.bus.Publish(events.New(events.TypeGateFailed, map[string]interface{}{"gateId": run.GateID, "taskId": run.TaskID}))
	}

	return run, nil
}

// GateStatus is one gate's derived last-run-wins status within a
// StatusResult.
type GateStatus struct {
	Gate   model.Gate
	Status string // not_run | passed | failed
}

// StatusResult is the result of Status.
type StatusResult struct {
	AllPassed bool
	Gates     []GateStatus
	BlockedBy []model.Gate
}

// Status loads gates triggered by forStatus and derives each one's
// last-run-wins status.
func (e *Evaluator) Status(taskID string, forStatus model.TaskStatus) (StatusResult, error) {
	rows, err := e.store.DB().Query(
		`SELECT id, task_id, gate_type, command, trigger_status, required, created_at FROM gates WHERE task_id = ? AND trigger_status = ?`,
		taskID, string(forStatus),
	)
	if err != nil {
		return StatusResult{}, fmt.Errorf("failed to load gates: %w", err)
	}
	var gateList []model.Gate
	for rows.Next() {
		var g model.Gate
		var required int
		if err := rows.Scan(&g.ID, &g.TaskID, &g.GateType, &g.Command, &g.TriggerStatus, &required, &g.CreatedAt); err != nil {
			rows.Close()
			return StatusResult{}, fmt.Errorf("failed to scan gate: %w", err)
		}
		g.Required = required != 0
		gateList = append(gateList, g)
	}
	rows.Close()

	var result StatusResult
	for _, g := range gateList {
		status := "not_run"
		var passed sql.NullBool
		// Runs recorded in the same millisecond fall back to insertion order.
		err := e.store.DB().QueryRow(
			`SELECT passed FROM gate_runs WHERE gate_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, g.ID,
		).Scan(&passed)
		if err != nil && err != sql.ErrNoRows {
			return StatusResult{}, fmt.Errorf("failed to load last gate run: %w", err)
		}
		if err == nil {
			if passed.Bool {
				status = "passed"
			} else {
				status = "failed"
			}
		}

		result.Gates = append(result.Gates, GateStatus{Gate: g, Status: status})
		if g.Required && status != "passed" {
			result.BlockedBy = append(result.BlockedBy, g)
		}
	}
	result.AllPassed = len(result.BlockedBy) == 0

	return result, nil
}
