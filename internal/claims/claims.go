// Package claims implements the file-claim lease engine. Agents claim
// files for exclusive editing with a TTL; claims lapse lazily on the next
// prune rather than via a background timer. Reads and writes are plain
// SQL serialized by the kernel's write lock rather than a package-local
// mutex, and claim creation upserts transactionally.
package claims

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/agentcoord/kernel/internal/clock"
	"github.com/agentcoord/kernel/internal/events"
	"github.com/agentcoord/kernel/internal/kernelerr"
	"github.com/agentcoord/kernel/internal/model"
	"github.com/agentcoord/kernel/internal/store"
)

const (
	minCreateTTLSeconds = 5
	maxCreateTTLSeconds = 3600
	minExtendSeconds    = 30
	maxExtendSeconds    = 3600
)

// Engine is the claim lease engine. It owns the claims table exclusively.
type Engine struct {
	store *store.Store
	clock clock.Clock
	bus   *events.Bus
}

// New constructs a ClaimEngine bound to the shared store, clock and bus.
func New(s *store.Store, c clock.Clock, b *events.Bus) *Engine {
	return &Engine{store: s, clock: c, bus: b}
}

// CreateResult is the outcome of Create: either the claim was granted, or
// conflictsWith lists the agents already holding one or more of the
// requested files (in which case no rows were written).
type CreateResult struct {
	Claim         model.Claim
	ConflictsWith []string
}

func clampTTL(seconds, min, max int) int {
	if seconds < min {
		return min
	}
	if seconds > max {
		return max
	}
	return seconds
}

// prune deletes all expired claim rows. Called at the start of every
// operation so expiry is observed lazily rather than via a timer.
func (e *Engine) prune(tx *sql.Tx, now int64) error {
	_, err := tx.Exec(`DELETE FROM claims WHERE expires_at <= ?`, now)
	if err != nil {
		return fmt.Errorf("failed to prune expired claims: %w", err)
	}
	return nil
}

// Create attempts to claim files for agentId. If any requested file is
// already held (post-prune) by a different agent, the call is a no-op: no
// rows are written and ConflictsWith names the blocking agents. Re-claiming
// a file the same agent already holds is idempotent and simply refreshes
// its expiry.
func (e *Engine) Create(agentID string, files []string, ttlSeconds int) (CreateResult, error) {
	if agentID == "" {
		return CreateResult{}, kernelerr.Validation("agentId is required")
	}
	if len(files) == 0 {
		return CreateResult{}, kernelerr.Validation("files must not be empty")
	}

	ttlSeconds = clampTTL(ttlSeconds, minCreateTTLSeconds, maxCreateTTLSeconds)
	now := e.clock.NowMillis()
	expiresAt := now + int64(ttlSeconds)*1000

	var result CreateResult
	err := e.store.WithTx(func(tx *sql.Tx) error {
		if err := e.prune(tx, now); err != nil {
			return err
		}

		conflicts := make(map[string]bool)
		for _, f := range files {
			rows, err := tx.Query(
				`SELECT DISTINCT agent_id FROM claims WHERE file_path = ? AND agent_id != ? AND expires_at > ?`,
				f, agentID, now,
			)
			if err != nil {
				return fmt.Errorf("failed to check claim conflicts: %w", err)
			}
			for rows.Next() {
				var other string
				if err := rows.Scan(&other); err != nil {
					rows.Close()
					return fmt.Errorf("failed to scan conflicting agent: %w", err)
				}
				conflicts[other] = true
			}
			rows.Close()
		}

		if len(conflicts) > 0 {
			names := make([]string, 0, len(conflicts))
			for a := range conflicts {
				names = append(names, a)
			}
			sort.Strings(names)
			result = CreateResult{
				Claim:         model.Claim{AgentID: agentID, Files: files, ExpiresAt: expiresAt, CreatedAt: now},
				ConflictsWith: names,
			}
			return nil
		}

		for _, f := range files {
			_, err := tx.Exec(
				`INSERT INTO claims (agent_id, file_path, expires_at, created_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT(agent_id, file_path) DO UPDATE SET expires_at = excluded.expires_at, created_at = excluded.created_at`,
				agentID, f, expiresAt, now,
			)
			if err != nil {
				return fmt.Errorf("failed to write claim for %s: %w", f, err)
			}
		}

		result = CreateResult{
			Claim: model.Claim{AgentID: agentID, Files: files, ExpiresAt: expiresAt, CreatedAt: now},
		}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}

	if len(result.ConflictsWith) == 0 {
		e.bus.Publish(events.New(events.TypeClaimCreated, map[string]interface{}{
			"agentId":   agentID,
			"files":     files,
			"expiresAt": expiresAt,
		}))
	} else {
		e.bus.Publish(events.New(events.TypeClaimConflict, map[string]interface{}{
			"agentId":       agentID,
			"files":         files,
			"conflictsWith": result.ConflictsWith,
		}))
	}

	return result, nil
}

// Release removes agentId's claims. If files is non-empty, only those file
// claims are released; otherwise every claim the agent holds is released.
func (e *Engine) Release(agentID string, files []string) (int, error) {
	if agentID == "" {
		return 0, kernelerr.Validation("agentId is required")
	}

	now := e.clock.NowMillis()
	var affected int64

	err := e.store.WithTx(func(tx *sql.Tx) error {
		if err := e.prune(tx, now); err != nil {
			return err
		}

		var res sql.Result
		var err error
		if len(files) == 0 {
			res, err = tx.Exec(`DELETE FROM claims WHERE agent_id = ?`, agentID)
		} else {
			placeholders, args := filePlaceholders(files)
			q := fmt.Sprintf(`DELETE FROM claims WHERE agent_id = ? AND file_path IN (%s)`, placeholders)
			args = append([]interface{}{agentID}, args...)
			res, err = tx.Exec(q, args...)
		}
		if err != nil {
			return fmt.Errorf("failed to release claims: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	if affected > 0 {
		e.bus.Publish(events.New(events.TypeClaimReleased, map[string]interface{}{
			"agentId": agentID,
			"files":   files,
			"count":   affected,
		}))
	}

	return int(affected), nil
}

// Extend pushes out the expiry of agentId's currently held claims (or just
// the named files, if given) by additionalSeconds, clamped to
// [30,3600]. Files the agent does not currently hold are ignored.
func (e *Engine) Extend(agentID string, additionalSeconds int, files []string) (int, error) {
	if agentID == "" {
		return 0, kernelerr.Validation("agentId is required")
	}

	additionalSeconds = clampTTL(additionalSeconds, minExtendSeconds, maxExtendSeconds)
	now := e.clock.NowMillis()
	var affected int64

	err := e.store.WithTx(func(tx *sql.Tx) error {
		if err := e.prune(tx, now); err != nil {
			return err
		}

		extensionMillis := int64(additionalSeconds) * 1000

		var res sql.Result
		var err error
		if len(files) == 0 {
			res, err = tx.Exec(`UPDATE claims SET expires_at = expires_at + ? WHERE agent_id = ? AND expires_at > ?`, extensionMillis, agentID, now)
		} else {
			placeholders, args := filePlaceholders(files)
			q := fmt.Sprintf(`UPDATE claims SET expires_at = expires_at + ? WHERE agent_id = ? AND expires_at > ? AND file_path IN (%s)`, placeholders)
			args = append([]interface{}{extensionMillis, agentID, now}, args...)
			res, err = tx.Exec(q, args...)
		}
		if err != nil {
			return fmt.Errorf("failed to extend claims: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	if affected > 0 {
		e.bus.Publish(events.New(events.TypeClaimExtended, map[string]interface{}{
			"agentId": agentID,
			"files":   files,
			"count":   affected,
		}))
	}

	return int(affected), nil
}

// filePlaceholders builds a "?, ?, ?" placeholder list for a dynamic file
// slice, returning it alongside the matching argument slice.
func filePlaceholders(files []string) (string, []interface{}) {
	placeholders := ""
	args := make([]interface{}, 0, len(files))
	for i, f := range files {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, f)
	}
	return placeholders, args
}

// ListActive returns every agent's current claim grouping, pruning expired
// rows first, ordered by createdAt descending (most recently claimed
// first).
func (e *Engine) ListActive() ([]model.Claim, error) {
	now := e.clock.NowMillis()

	var claims []model.Claim
	err := e.store.WithTx(func(tx *sql.Tx) error {
		if err := e.prune(tx, now); err != nil {
			return err
		}

		rows, err := tx.Query(`SELECT agent_id, file_path, expires_at, created_at FROM claims ORDER BY agent_id, file_path`)
		if err != nil {
			return fmt.Errorf("failed to list claims: %w", err)
		}
		defer rows.Close()

		byAgent := make(map[string]*model.Claim)
		order := make([]string, 0)
		for rows.Next() {
			var agentID, filePath string
			var expiresAt, createdAt int64
			if err := rows.Scan(&agentID, &filePath, &expiresAt, &createdAt); err != nil {
				return fmt.Errorf("failed to scan claim row: %w", err)
			}
			c, ok := byAgent[agentID]
			if !ok {
				c = &model.Claim{AgentID: agentID, ExpiresAt: expiresAt, CreatedAt: createdAt}
				byAgent[agentID] = c
				order = append(order, agentID)
			}
			c.Files = append(c.Files, filePath)
			if expiresAt > c.ExpiresAt {
				c.ExpiresAt = expiresAt
			}
			if createdAt < c.CreatedAt {
				c.CreatedAt = createdAt
			}
		}

		out := make([]model.Claim, 0, len(order))
		for _, a := range order {
			out = append(out, *byAgent[a])
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
		claims = out
		return nil
	})
	return claims, err
}

// GetAgentClaims returns the file paths currently held by agentId, pruning
// expired rows first.
func (e *Engine) GetAgentClaims(agentID string) ([]string, error) {
	now := e.clock.NowMillis()

	var files []string
	err := e.store.WithTx(func(tx *sql.Tx) error {
		if err := e.prune(tx, now); err != nil {
			return err
		}

		rows, err := tx.Query(`SELECT file_path FROM claims WHERE agent_id = ? ORDER BY file_path`, agentID)
		if err != nil {
			return fmt.Errorf("failed to list agent claims: %w", err)
		}
		defer rows.Close()

		files = make([]string, 0)
		for rows.Next() {
			var f string
			if err := rows.Scan(&f); err != nil {
				return fmt.Errorf("failed to scan file path: %w", err)
			}
			files = append(files, f)
		}
		return nil
	})
	return files, err
}
