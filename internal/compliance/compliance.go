// Package compliance implements a post-hoc read-only comparison of an
// agent's declared intent against its observed work for a task, composing
// reads across intents, evidence, changelog, and claims into a checklist
// of named checks.
package compliance

import (
	"strings"

	"github.com/agentcoord/kernel/internal/changelog"
	"github.com/agentcoord/kernel/internal/claims"
	"github.com/agentcoord/kernel/internal/clock"
	"github.com/agentcoord/kernel/internal/evidence"
	"github.com/agentcoord/kernel/internal/intent"
	"github.com/agentcoord/kernel/internal/model"
)

// Check is one named compliance check result.
type Check struct {
	Name     string
	Required bool
	Passed   bool
	Message  string
}

// Report is the result of Check.
type Report struct {
	TaskID      string
	AgentID     string
	Checks      []Check
	Score       float64
	CanComplete bool
}

// Evaluator computes per-(task, agent) compliance reports.
type Evaluator struct {
	intents    *intent.Log
	evidenceLg *evidence.Log
	changelog  *changelog.Log
	claims     *claims.Engine
	clock      clock.Clock
}

// New constructs a Compliance evaluator composing the four logs it reads.
func New(i *intent.Log, e *evidence.Log, c *changelog.Log, cl *claims.Engine, clk clock.Clock) *Evaluator {
	return &Evaluator{intents: i, evidenceLg: e, changelog: c, claims: cl, clock: clk}
}

// Check computes the compliance report for (taskID, agentID). It never
// writes intents, evidence, or the changelog; reading the agent's claims
// through GetAgentClaims prunes expired claim rows, as every claim
// operation does.
func (ev *Evaluator) Check(taskID, agentID string) (Report, error) {
	intents, err := ev.intents.ListByTaskAndAgent(taskID, agentID)
	if err != nil {
		return Report{}, err
	}
	evidenceRecords, err := ev.evidenceLg.ListByTaskAndAgent(taskID, agentID)
	if err != nil {
		return Report{}, err
	}
	changes, err := ev.changelog.ListByTaskAndAgent(taskID, agentID)
	if err != nil {
		return Report{}, err
	}
	activeClaims, err := ev.claims.GetAgentClaims(agentID)
	if err != nil {
		return Report{}, err
	}

	declaredFiles := make(map[string]bool)
	declaredBoundaries := make(map[string]bool)
	for _, in := range intents {
		for _, f := range in.Files {
			declaredFiles[f] = true
		}
		for _, b := range in.Boundaries {
			declaredBoundaries[b] = true
		}
	}

	touchedFiles := make(map[string]bool)
	for _, c := range changes {
		if model.FileChangeTypes[c.ChangeType] {
			touchedFiles[c.FilePath] = true
		}
	}

	activeClaimSet := make(map[string]bool, len(activeClaims))
	for _, f := range activeClaims {
		activeClaimSet[f] = true
	}

	checks := []Check{
		checkIntentPosted(len(intents) > 0),
		checkEvidenceAttached(len(evidenceRecords) > 0),
		checkFilesMatchIntent(touchedFiles, declaredFiles),
		checkBoundariesRespected(touchedFiles, declaredBoundaries),
		checkClaimsReleased(touchedFiles, activeClaimSet),
	}

	passed := 0
	canComplete := true
	for _, c := range checks {
		if c.Passed {
			passed++
		} else if c.Required {
			canComplete = false
		}
	}

	return Report{
		TaskID:      taskID,
		AgentID:     agentID,
		Checks:      checks,
		Score:       float64(passed) / float64(len(checks)),
		CanComplete: canComplete,
	}, nil
}

func checkIntentPosted(hasIntent bool) Check {
	c := Check{Name: "intent_posted", Required: true, Passed: hasIntent}
	if hasIntent {
		c.Message = "at least one intent was posted"
	} else {
		c.Message = "no intent was posted for this task/agent"
	}
	return c
}

func checkEvidenceAttached(hasEvidence bool) Check {
	c := Check{Name: "evidence_attached", Required: true, Passed: hasEvidence}
	if hasEvidence {
		c.Message = "at least one evidence record was attached"
	} else {
		c.Message = "no evidence was attached for this task/agent"
	}
	return c
}

func checkFilesMatchIntent(touchedFiles, declaredFiles map[string]bool) Check {
	for f := range touchedFiles {
		if !declaredFiles[f] {
			return Check{Name: "files_match_intent", Required: false, Passed: false,
				Message: "touched file " + f + " was not declared in any intent"}
		}
	}
	return Check{Name: "files_match_intent", Required: false, Passed: true, Message: "all touched files were declared"}
}

func checkBoundariesRespected(touchedFiles, declaredBoundaries map[string]bool) Check {
	for f := range touchedFiles {
		for boundary := range declaredBoundaries {
			if strings.HasPrefix(f, boundary) {
				return Check{Name: "boundaries_respected", Required: false, Passed: false,
					Message: "touched file " + f + " lies under declared boundary " + boundary}
			}
		}
	}
	return Check{Name: "boundaries_respected", Required: false, Passed: true, Message: "no touched file lies under a declared boundary"}
}

func checkClaimsReleased(touchedFiles, activeClaimSet map[string]bool) Check {
	for f := range touchedFiles {
		if activeClaimSet[f] {
			return Check{Name: "claims_released", Required: false, Passed: false,
				Message: "an active claim still covers touched file " + f}
		}
	}
	return Check{Name: "claims_released", Required: false, Passed: true, Message: "no active claim covers a touched file"}
}
