package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pliakos/crewd/internal/collab"
	"github.com/pliakos/crewd/internal/consensus"
	"github.com/pliakos/crewd/internal/orchestrator"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Agents
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("POST /api/agents", s.registerAgent)
	mux.HandleFunc("GET /api/agents/{id}", s.getAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.unregisterAgent)
	mux.HandleFunc("POST /api/agents/{id}/pause", s.pauseAgent)
	mux.HandleFunc("POST /api/agents/{id}/resume", s.resumeAgent)
	mux.HandleFunc("GET /api/agents/{id}/load", s.getAgentLoad)

	// Tasks
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("POST /api/tasks", s.submitTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.getTask)

	// Consensus
	mux.HandleFunc("POST /api/consensus", s.reachConsensus)

	// Load balancer
	mux.HandleFunc("POST /api/balancer/select", s.selectAgent)

	// Collaboration protocols
	mux.HandleFunc("GET /api/protocols", s.listProtocols)
	mux.HandleFunc("POST /api/protocols/{name}/run", s.runProtocol)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.orch.ListAgents()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := agents[:0]
		for _, a := range agents {
			if string(a.Status) == status {
				filtered = append(filtered, a)
			}
		}
		agents = filtered
	}
	jsonResponse(w, agents)
}

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	var spec orchestrator.AgentSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, err := s.orch.RegisterAgent(spec)
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	jsonResponseStatus(w, http.StatusCreated, a)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.orch.GetAgent(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	jsonResponse(w, a)
}

func (s *Server) unregisterAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.UnregisterAgent(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) pauseAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.PauseAgent(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) resumeAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.ResumeAgent(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) getAgentLoad(w http.ResponseWriter, r *http.Request) {
	load, ok := s.lb.GetAgentLoad(r.PathValue("id"))
	if !ok {
		jsonError(w, "no load snapshot", http.StatusNotFound)
		return
	}
	jsonResponse(w, load)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	status := orchestrator.TaskStatus(r.URL.Query().Get("status"))
	jsonResponse(w, s.orch.ListTasks(status))
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var spec orchestrator.TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	t, err := s.orch.SubmitTask(spec)
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	jsonResponseStatus(w, http.StatusCreated, t)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.GetTask(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	jsonResponse(w, t)
}

func (s *Server) reachConsensus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Opinions  []consensus.Opinion `json:"opinions"`
		Strategy  string              `json:"strategy"`
		Threshold *float64            `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	threshold := 0.5
	if body.Threshold != nil {
		threshold = *body.Threshold
	}
	strategy := consensus.Strategy(body.Strategy)
	if body.Strategy == "" {
		strategy = consensus.Majority
	}

	result, err := s.engine.Reach(body.Opinions, strategy, threshold)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, result)
}

func (s *Server) selectAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Candidates   []string `json:"candidates"`
		Requirements []string `json:"requirements"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(body.Candidates) == 0 {
		jsonError(w, "candidates are required", http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{
		"agent_id": s.lb.Select(body.Candidates, body.Requirements),
		"strategy": string(s.lb.Strategy()),
	})
}

func (s *Server) listProtocols(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.protocols.List())
}

func (s *Server) runProtocol(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Task    collab.Task    `json:"task"`
		Agents  []string       `json:"agents"`
		Options collab.Options `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Participants must be registered agents; their snapshot is what the
	// protocol sees.
	participants := make([]collab.Agent, 0, len(body.Agents))
	for _, id := range body.Agents {
		a, err := s.orch.GetAgent(id)
		if err != nil {
			jsonError(w, err.Error(), statusFor(err))
			return
		}
		participants = append(participants, collab.Agent{
			ID:           a.ID,
			Type:         a.Type,
			Name:         a.Name,
			Capabilities: a.Capabilities,
		})
	}

	result, err := s.protocols.Run(r.Context(), r.PathValue("name"), body.Task, participants, body.Options)
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	jsonResponse(w, result)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonResponse(w, []any{})
		return
	}
	runs, err := s.store.ListCollabRuns(r.URL.Query().Get("protocol"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "not found", http.StatusNotFound)
		return
	}
	run, err := s.store.GetCollabRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	agents := s.orch.ListAgents()
	idle, running := 0, 0
	for _, a := range agents {
		switch a.Status {
		case orchestrator.AgentIdle:
			idle++
		case orchestrator.AgentRunning:
			running++
		}
	}

	status := map[string]any{
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"agents":         len(agents),
		"agents_idle":    idle,
		"agents_running": running,
		"queue_depth":    s.orch.QueueDepth(),
	}
	if s.bus != nil {
		status["nats_clients"] = s.bus.NumClients()
	}
	jsonResponse(w, status)
}

// statusFor maps the orchestrator/protocol error taxonomy onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrValidation), errors.Is(err, collab.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func jsonResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func jsonResponseStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
