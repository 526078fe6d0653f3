// Package http is the thin mux-routed adapter over the kernel's
// Coordinator: a JSON request/response surface plus the /ws event stream.
// internal/kernel is the real surface; request validation, rate limiting,
// and auth middleware are deliberately out of scope here, kept minimal on
// purpose -- enough to exercise gorilla/mux and gorilla/websocket without
// growing a dashboard or CLI of its own.
package http

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/agentcoord/kernel/internal/evidence"
	"github.com/agentcoord/kernel/internal/intent"
	"github.com/agentcoord/kernel/internal/kanban"
	"github.com/agentcoord/kernel/internal/kernel"
	"github.com/agentcoord/kernel/internal/kernelerr"
	"github.com/agentcoord/kernel/internal/model"
	"github.com/agentcoord/kernel/internal/notifications"
)

// envelope is the response wrapper: {ok:true,data} or
// {ok:false,error}.
type envelope struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Server is the HTTP/JSON adapter over one Coordinator.
type Server struct {
	coord  *kernel.Coordinator
	router *mux.Router
	hub    *Hub
	toast  *notifications.ToastNotifier
}

// New builds the mux-routed server and its websocket hub, wiring the
// /api endpoints and the /ws stream.
func New(coord *kernel.Coordinator) *Server {
	s := &Server{
		coord: coord,
		hub:   NewHub(coord),
	}
	s.router = mux.NewRouter()
	s.routes()
	go s.hub.Run()
	return s
}

// WithToastNotifier attaches the ambient desktop-toast channel used by
// handleUpdateTask's compliance-blocked notice. Returns s for chaining.
func (s *Server) WithToastNotifier(n *notifications.ToastNotifier) *Server {
	s.toast = n
	return s
}

// ServeHTTP lets Server itself be passed to http.ListenAndServe.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/feed", s.handleFeed).Methods("GET")
	api.HandleFunc("/agents", s.handleAgents).Methods("GET")

	api.HandleFunc("/tasks", s.handleCreateTask).Methods("POST")
	api.HandleFunc("/tasks", s.handleListTasks).Methods("GET")
	api.HandleFunc("/tasks/{id}", s.handleGetTask).Methods("GET")
	api.HandleFunc("/tasks/{id}", s.handleUpdateTask).Methods("PATCH", "PUT")

	api.HandleFunc("/dependencies", s.handleAddDependency).Methods("POST")

	api.HandleFunc("/intents", s.handlePostIntent).Methods("POST")

	api.HandleFunc("/claims", s.handleCreateClaim).Methods("POST")
	api.HandleFunc("/claims", s.handleListClaims).Methods("GET")
	api.HandleFunc("/claims", s.handleReleaseClaims).Methods("DELETE")

	api.HandleFunc("/evidence", s.handlePostEvidence).Methods("POST")

	api.HandleFunc("/compliance/{taskId}/{agentId}", s.handleComplianceCheck).Methods("GET")

	api.HandleFunc("/gates", s.handleDefineGate).Methods("POST")
	api.HandleFunc("/gates/runs", s.handleRecordGateRun).Methods("POST")
	api.HandleFunc("/gates/{taskId}/status", s.handleGateStatus).Methods("GET")

	s.router.HandleFunc("/ws", s.hub.HandleWebSocket)
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{OK: true, Data: data}); err != nil {
		log.Printf("[HTTP] failed to encode response: %v", err)
	}
}

func respondErr(w http.ResponseWriter, err error) {
	kind := kernelerr.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.Status())
	if encErr := json.NewEncoder(w).Encode(envelope{OK: false, Error: err.Error()}); encErr != nil {
		log.Printf("[HTTP] failed to encode error response: %v", encErr)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{
		"ts": time.Now().UnixMilli(),
	})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	entries, err := s.coord.Feed(limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, entries)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	claims, err := s.coord.ListActiveClaims()
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, claims)
}

type createTaskRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Status        string   `json:"status"`
	Priority      string   `json:"priority"`
	AssignedAgent string   `json:"assignedAgent"`
	DueDate       *int64   `json:"dueDate"`
	Labels        []string `json:"labels"`
	StoryPoints   *int     `json:"storyPoints"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, kernelerr.Validation("invalid request body: %v", err))
		return
	}

	opts := kanban.CreateOptions{
		Priority:      model.Priority(req.Priority),
		AssignedAgent: req.AssignedAgent,
		DueDate:       req.DueDate,
		Labels:        req.Labels,
		StoryPoints:   req.StoryPoints,
	}
	if req.Status != "" {
		opts.Status = model.TaskStatus(req.Status)
	}

	task, err := s.coord.CreateTask(req.Title, req.Description, opts)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	board, err := s.coord.GetBoard(kanban.BoardFilters{})
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, board)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.coord.GetTask(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, task)
}

type postIntentRequest struct {
	TaskID             string   `json:"taskId"`
	AgentID            string   `json:"agentId"`
	Files              []string `json:"files"`
	Boundaries         []string `json:"boundaries"`
	AcceptanceCriteria string   `json:"acceptanceCriteria"`
}

func (s *Server) handlePostIntent(w http.ResponseWriter, r *http.Request) {
	var req postIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, kernelerr.Validation("invalid request body: %v", err))
		return
	}
	in, err := s.coord.PostIntent(intent.PostInput{
		TaskID:             req.TaskID,
		AgentID:            req.AgentID,
		Files:              req.Files,
		Boundaries:         req.Boundaries,
		AcceptanceCriteria: req.AcceptanceCriteria,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, in)
}

type createClaimRequest struct {
	AgentID    string   `json:"agentId"`
	Files      []string `json:"files"`
	TTLSeconds int      `json:"ttlSeconds"`
}

func (s *Server) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	var req createClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, kernelerr.Validation("invalid request body: %v", err))
		return
	}
	result, err := s.coord.CreateClaim(req.AgentID, req.Files, req.TTLSeconds)
	if err != nil {
		respondErr(w, err)
		return
	}
	// A conflicted claim attempt still responds 409 with ok:true and
	// {claim, conflictsWith}; it is not an error status for the envelope.
	status := http.StatusOK
	if len(result.ConflictsWith) > 0 {
		status = http.StatusConflict
	}
	respond(w, status, result)
}

func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	active, err := s.coord.ListActiveClaims()
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, active)
}

type releaseClaimsRequest struct {
	AgentID string   `json:"agentId"`
	Files   []string `json:"files"`
}

func (s *Server) handleReleaseClaims(w http.ResponseWriter, r *http.Request) {
	var req releaseClaimsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, kernelerr.Validation("invalid request body: %v", err))
		return
	}
	count, err := s.coord.ReleaseClaims(req.AgentID, req.Files)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]int{"released": count})
}

type postEvidenceRequest struct {
	TaskID  string `json:"taskId"`
	AgentID string `json:"agentId"`
	Command string `json:"command"`
	Output  string `json:"output"`
}

func (s *Server) handlePostEvidence(w http.ResponseWriter, r *http.Request) {
	var req postEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, kernelerr.Validation("invalid request body: %v", err))
		return
	}
	e, err := s.coord.AttachEvidence(evidence.AttachInput{
		TaskID:  req.TaskID,
		AgentID: req.AgentID,
		Command: req.Command,
		Output:  req.Output,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, e)
}
