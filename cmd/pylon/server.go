package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pylon/pkg/dashboard"
	"pylon/pkg/relay"

	"github.com/google/uuid"
)

// server exposes the query surfaces and the streaming state endpoint.
type server struct {
	poller  *dashboard.Poller
	loader  *dashboard.Loader
	agg     dashboard.Aggregator
	store   *relay.Store
	manager *relay.Manager
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/feed", s.handleFeed)
	mux.HandleFunc("GET /api/collisions", s.handleCollisions)
	mux.HandleFunc("GET /api/projects", s.handleProjects)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSessionDetail)
	mux.HandleFunc("GET /api/relay/targets", s.handleRelayTargets)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	return mux
}

// compute runs the full pipeline once: discover, parse, segment, analyze,
// aggregate.
func (s *server) compute(ctx context.Context) (*dashboard.DashboardState, error) {
	sessions, err := s.loader.Load(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	return s.agg.Aggregate(sessions, time.Now()), nil
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.compute(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, state)
}

func (s *server) handleFeed(w http.ResponseWriter, r *http.Request) {
	state, err := s.compute(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, state.Feed)
}

func (s *server) handleCollisions(w http.ResponseWriter, r *http.Request) {
	state, err := s.compute(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, state.Collisions)
}

// projectInfo is one row of the projects listing.
type projectInfo struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	SessionCount int    `json:"sessionCount"`
	ActiveCount  int    `json:"activeCount"`
}

func (s *server) handleProjects(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.loader.Load(r.Context(), time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, projectsOf(sessions))
}

func projectsOf(sessions []dashboard.SessionState) []projectInfo {
	index := map[string]*projectInfo{}
	var order []string
	for i := range sessions {
		sess := sessions[i].Session
		p, ok := index[sess.ProjectPath]
		if !ok {
			p = &projectInfo{Path: sess.ProjectPath, Name: sess.ProjectName}
			index[sess.ProjectPath] = p
			order = append(order, sess.ProjectPath)
		}
		p.SessionCount++
		if sess.Active {
			p.ActiveCount++
		}
	}
	out := make([]projectInfo, 0, len(order))
	for _, path := range order {
		out = append(out, *index[path])
	}
	return out
}

// sessionInfo is one row of the sessions listing.
type sessionInfo struct {
	ID         string    `json:"id"`
	Project    string    `json:"project"`
	Active     bool      `json:"active"`
	ModifiedAt time.Time `json:"modifiedAt"`
	TurnCount  int       `json:"turnCount"`
	RiskLevel  string    `json:"riskLevel"`
}

func (s *server) handleSessions(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	sessions, err := s.loader.Load(r.Context(), time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := []sessionInfo{}
	for i := range sessions {
		st := &sessions[i]
		if project != "" && st.Session.ProjectPath != project {
			continue
		}
		info := sessionInfo{
			ID:         st.Session.ID,
			Project:    st.Session.ProjectPath,
			Active:     st.Session.Active,
			ModifiedAt: st.Session.ModifiedAt,
			TurnCount:  len(st.Turns),
		}
		if st.Risk != nil {
			info.RiskLevel = string(st.Risk.Level)
		}
		out = append(out, info)
	}
	writeJSON(w, out)
}

func (s *server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sessions, err := s.loader.Load(r.Context(), time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for i := range sessions {
		if sessions[i].Session.ID == id {
			writeJSON(w, map[string]any{
				"session": sessions[i].Session,
				"turns":   sessions[i].Turns,
				"risk":    sessions[i].Risk,
			})
			return
		}
	}
	http.Error(w, fmt.Sprintf("no session %s", id), http.StatusNotFound)
}

// relayTargetInfo is the credential-free view of a configured target.
type relayTargetInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Endpoint  string    `json:"endpoint"`
	Projects  []string  `json:"projects"`
	State     string    `json:"state,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *server) handleRelayTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.store.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	states := s.manager.ConnStates()
	out := make([]relayTargetInfo, 0, len(targets))
	for _, t := range targets {
		out = append(out, relayTargetInfo{
			ID:        t.ID,
			Name:      t.Name,
			Endpoint:  t.Endpoint,
			Projects:  t.Projects,
			State:     string(states[t.ID]),
			CreatedAt: t.CreatedAt,
		})
	}
	writeJSON(w, out)
}

// handleStream is the SSE endpoint: current state immediately on subscribe,
// then one event per changed state, each tagged with its sequence id.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := uuid.NewString()
	updates := s.poller.Subscribe(id)
	defer s.poller.Unsubscribe(id)

	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			fmt.Fprintf(w, "id: %d\nevent: state\ndata: %s\n\n", update.Seq, update.State)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
