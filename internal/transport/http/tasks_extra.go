package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentcoord/kernel/internal/gates"
	"github.com/agentcoord/kernel/internal/kanban"
	"github.com/agentcoord/kernel/internal/kernelerr"
	"github.com/agentcoord/kernel/internal/model"
)

// These endpoints round out the core API with the
// remaining Coordinator operations (task transitions, dependencies, gate
// definition/run/status) a real dashboard or CLI would also need; the
// kernel itself is the real surface, this adapter just exposes
// it.

type updateTaskRequest struct {
	Title               *string  `json:"title"`
	Description         *string  `json:"description"`
	Status              string   `json:"status"`
	Priority            string   `json:"priority"`
	AssignedAgent       *string  `json:"assignedAgent"`
	DueDate             *int64   `json:"dueDate"`
	Labels              []string `json:"labels"`
	StoryPoints         *int     `json:"storyPoints"`
	EnforceDependencies *bool    `json:"enforceDependencies"`
	EnforceWipLimits    *bool    `json:"enforceWipLimits"`
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, kernelerr.Validation("invalid request body: %v", err))
		return
	}

	fields := kanban.UpdateFields{
		Title:         req.Title,
		Description:   req.Description,
		Status:        model.TaskStatus(req.Status),
		Priority:      model.Priority(req.Priority),
		AssignedAgent: req.AssignedAgent,
		DueDate:       req.DueDate,
		Labels:        req.Labels,
		StoryPoints:   req.StoryPoints,
	}

	opts := kanban.DefaultUpdateOptions()
	if req.EnforceDependencies != nil {
		opts.EnforceDependencies = *req.EnforceDependencies
	}
	if req.EnforceWipLimits != nil {
		opts.EnforceWipLimits = *req.EnforceWipLimits
	}

	result, err := s.coord.UpdateTask(id, fields, opts)
	if err != nil {
		respondErr(w, err)
		return
	}

	// Compliance is advisory: the caller decides whether to act on
	// it. This adapter does not block the done transition; it only
	// surfaces the result, firing the ambient toast alert when assigned.
	if fields.Status == model.StatusDone && result.Task.AssignedAgent != "" {
		if report, err := s.coord.CheckCompliance(id, result.Task.AssignedAgent); err != nil {
			log.Printf("[HTTP] compliance check failed for task %s: %v", id, err)
		} else if !report.CanComplete && s.toast != nil {
			reason := "required compliance check did not pass"
			for _, c := range report.Checks {
				if c.Required && !c.Passed {
					reason = c.Message
					break
				}
			}
			if err := s.toast.NotifyComplianceBlocked(id, result.Task.AssignedAgent, reason); err != nil {
				log.Printf("[HTTP] compliance toast failed: %v", err)
			}
		}
	}

	respond(w, http.StatusOK, result)
}

type addDependencyRequest struct {
	TaskID          string `json:"taskId"`
	DependsOnTaskID string `json:"dependsOnTaskId"`
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req addDependencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, kernelerr.Validation("invalid request body: %v", err))
		return
	}
	dep, err := s.coord.AddDependency(req.TaskID, req.DependsOnTaskID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, dep)
}

func (s *Server) handleComplianceCheck(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	report, err := s.coord.CheckCompliance(vars["taskId"], vars["agentId"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, report)
}

type defineGateRequest struct {
	TaskID        string `json:"taskId"`
	GateType      string `json:"gateType"`
	Command       string `json:"command"`
	TriggerStatus string `json:"triggerStatus"`
	Required      *bool  `json:"required"`
}

func (s *Server) handleDefineGate(w http.ResponseWriter, r *http.Request) {
	var req defineGateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, kernelerr.Validation("invalid request body: %v", err))
		return
	}
	g, err := s.coord.DefineGate(gates.DefineInput{
		TaskID:        req.TaskID,
		GateType:      model.GateType(req.GateType),
		Command:       req.Command,
		TriggerStatus: model.TaskStatus(req.TriggerStatus),
		Required:      req.Required,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, g)
}

type recordGateRunRequest struct {
	GateID     string `json:"gateId"`
	AgentID    string `json:"agentId"`
	Passed     bool   `json:"passed"`
	Output     string `json:"output"`
	DurationMs *int64 `json:"durationMs"`
}

func (s *Server) handleRecordGateRun(w http.ResponseWriter, r *http.Request) {
	var req recordGateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, kernelerr.Validation("invalid request body: %v", err))
		return
	}
	run, err := s.coord.RecordGateRun(gates.RecordRunInput{
		GateID:     req.GateID,
		AgentID:    req.AgentID,
		Passed:     req.Passed,
		Output:     req.Output,
		DurationMs: req.DurationMs,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, run)
}

func (s *Server) handleGateStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	result, err := s.coord.GateStatus(vars["taskId"], model.TaskStatus(r.URL.Query().Get("forStatus")))
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, result)
}
