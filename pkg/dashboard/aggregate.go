package dashboard

import (
	"fmt"
	"sort"
	"time"

	"pylon/pkg/collision"
	"pylon/pkg/risk"
	"pylon/pkg/turns"
)

// Aggregator composes session states into a DashboardState. It is pure
// computation over the snapshot it is handed; the caller owns discovery,
// parsing, and scheduling.
type Aggregator struct {
	// Operator is the local operator identity attached to every session.
	Operator string
}

// Aggregate builds the full dashboard state for one tick.
func (a *Aggregator) Aggregate(sessions []SessionState, now time.Time) *DashboardState {
	state := &DashboardState{
		GeneratedAt: now,
		Operator:    a.Operator,
	}

	touches := collectTouches(sessions, a.Operator)
	state.Collisions = collision.Detect(touches, now)

	collidedProjects := map[string]bool{}
	for _, c := range state.Collisions {
		for _, p := range c.Participants {
			collidedProjects[p.Project] = true
		}
	}

	byProject := map[string][]*SessionState{}
	for i := range sessions {
		s := &sessions[i]
		state.Agents = append(state.Agents, a.buildAgent(s))
		byProject[s.Session.ProjectPath] = append(byProject[s.Session.ProjectPath], s)
	}
	sort.Slice(state.Agents, func(i, j int) bool {
		return state.Agents[i].SessionID < state.Agents[j].SessionID
	})

	projects := make([]string, 0, len(byProject))
	for p := range byProject {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	for _, p := range projects {
		ws := buildWorkstream(p, byProject[p], collidedProjects[p])
		state.Workstreams = append(state.Workstreams, ws)
	}

	state.Feed = buildFeed(sessions, state.Collisions)
	state.Summary = buildSummary(state)
	return state
}

// buildAgent maps one session to its dashboard row.
func (a *Aggregator) buildAgent(s *SessionState) Agent {
	agent := Agent{
		SessionID:       s.Session.ID,
		Operator:        a.Operator,
		ProjectPath:     s.Session.ProjectPath,
		ProjectName:     s.Session.ProjectName,
		Status:          StatusIdle,
		RiskLevel:       s.Risk.Level,
		ErrorRate:       s.Risk.ErrorRate,
		ContextUsagePct: s.Risk.ContextUsagePct,
		CostUSD:         s.Risk.TotalCostUSD,
		TurnCount:       len(s.Turns),
		Signals:         s.Risk.Signals,
		Hotspots:        s.Risk.FileHotspots,
		LastActivity:    s.Session.ModifiedAt,
		Tasks:           latestTasks(s.Turns),
	}
	if s.Session.Active {
		agent.Status = StatusWorking
	}
	for _, t := range s.Turns {
		if t.Committed {
			agent.CommitCount++
		}
		agent.ErrorCount += t.ErrorCount
		if t.Model != "" {
			agent.Model = t.Model
		}
		if t.Sections.Goal != "" {
			agent.LastGoal = t.Sections.Goal
		}
	}
	return agent
}

// buildWorkstream folds a project's sessions into one aggregate. Workstream
// risk is the worst member level; its error rate is the unweighted mean of
// member rates.
func buildWorkstream(project string, members []*SessionState, hasCollision bool) Workstream {
	ws := Workstream{
		ProjectPath:  project,
		RiskLevel:    risk.LevelNominal,
		HasCollision: hasCollision,
	}
	completed, total := 0, 0
	var rateSum float64
	taskSeen := map[string]bool{}
	for _, s := range members {
		ws.ProjectName = s.Session.ProjectName
		ws.Agents = append(ws.Agents, s.Session.ID)
		ws.RiskLevel = risk.Worse(ws.RiskLevel, s.Risk.Level)
		rateSum += s.Risk.ErrorRate
		for _, t := range s.Turns {
			total++
			if turnCompleted(t) {
				completed++
			}
			if t.Committed {
				ws.CommitCount++
			}
			ws.ErrorCount += t.ErrorCount
		}
		for _, task := range latestTasks(s.Turns) {
			if !taskSeen[task.Content] {
				taskSeen[task.Content] = true
				ws.Tasks = append(ws.Tasks, task)
			}
		}
	}
	sort.Strings(ws.Agents)
	ws.TurnCount = total
	if total > 0 {
		ws.CompletionPct = float64(completed) / float64(total) * 100
	}
	if len(members) > 0 {
		ws.ErrorRate = rateSum / float64(len(members))
	}
	return ws
}

// turnCompleted marks a turn that ran to a clean finish.
func turnCompleted(t *turns.TurnNode) bool {
	return t.ErrorCount == 0 && t.Intent != turns.IntentInterruption
}

// latestTasks returns the task list from the session's most recent TodoWrite
// call. Earlier lists are superseded wholesale, matching the tool's
// replace-everything semantics.
func latestTasks(sequence []*turns.TurnNode) []Task {
	for i := len(sequence) - 1; i >= 0; i-- {
		for j := len(sequence[i].Events) - 1; j >= 0; j-- {
			for _, use := range sequence[i].Events[j].ToolUses() {
				if use.ToolName != "TodoWrite" {
					continue
				}
				if tasks := parseTodos(use.ToolInput); tasks != nil {
					return tasks
				}
			}
		}
	}
	return nil
}

// parseTodos decodes a TodoWrite input's todos array.
func parseTodos(input map[string]any) []Task {
	raw, ok := input["todos"].([]any)
	if !ok {
		return nil
	}
	var out []Task
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		content, _ := m["content"].(string)
		status, _ := m["status"].(string)
		if content == "" {
			continue
		}
		out = append(out, Task{Content: content, Status: status})
	}
	return out
}

// collectTouches flattens every session's file modifications for collision
// detection, recording the latest action description per file.
func collectTouches(sessions []SessionState, operator string) []collision.FileTouch {
	var touches []collision.FileTouch
	for i := range sessions {
		s := &sessions[i]
		for _, t := range s.Turns {
			for _, path := range t.FilesChanged {
				action := t.Sections.Goal
				if action == "" {
					action = fmt.Sprintf("turn %d", t.Index+1)
				}
				touches = append(touches, collision.FileTouch{
					SessionID:  s.Session.ID,
					Project:    s.Session.ProjectPath,
					Operator:   operator,
					Path:       path,
					LastAction: action,
					Time:       t.EndTime,
				})
			}
		}
	}
	return touches
}

// buildSummary computes the headline numbers from the assembled state.
func buildSummary(state *DashboardState) Summary {
	s := Summary{
		ProjectCount:   len(state.Workstreams),
		AgentCount:     len(state.Agents),
		CollisionCount: len(state.Collisions),
		OverallRisk:    risk.LevelNominal,
	}
	for _, c := range state.Collisions {
		if c.Severity == collision.SeverityCritical {
			s.CriticalCollisions++
		}
	}
	for _, a := range state.Agents {
		if a.Status == StatusWorking {
			s.ActiveAgentCount++
		}
		s.TotalCostUSD += a.CostUSD
		s.OverallRisk = risk.Worse(s.OverallRisk, a.RiskLevel)
	}
	return s
}
