package relay

import (
	"pylon/pkg/dashboard"
	"pylon/pkg/risk"
)

// Transform maps a dashboard state to its external wire representation,
// scoped to the allow-listed project paths. Agents, workstreams, and feed
// events outside the allow-list are dropped; a collision survives if at
// least one participant's session made it into the filtered agent set.
// Pure function: no side effects, no retained references.
func Transform(state *dashboard.DashboardState, operator string, allowedProjects []string) *WireState {
	allowed := map[string]bool{}
	for _, p := range allowedProjects {
		allowed[p] = true
	}

	out := &WireState{
		Operator:    operator,
		Agents:      []WireAgent{},
		Workstreams: []WireWorkstream{},
		Collisions:  []WireCollision{},
		Feed:        []WireFeedEvent{},
	}

	includedSessions := map[string]bool{}
	for _, a := range state.Agents {
		if !allowed[a.ProjectPath] {
			continue
		}
		includedSessions[a.SessionID] = true
		out.Agents = append(out.Agents, WireAgent{
			SessionID:       a.SessionID,
			ProjectPath:     a.ProjectPath,
			ProjectName:     a.ProjectName,
			Status:          string(a.Status),
			RiskLevel:       a.RiskLevel,
			ErrorRate:       a.ErrorRate,
			ContextUsagePct: a.ContextUsagePct,
			CostUSD:         a.CostUSD,
			TurnCount:       a.TurnCount,
			CommitCount:     a.CommitCount,
			LastGoal:        a.LastGoal,
		})
	}

	for _, ws := range state.Workstreams {
		if !allowed[ws.ProjectPath] {
			continue
		}
		out.Workstreams = append(out.Workstreams, WireWorkstream{
			ProjectPath:   ws.ProjectPath,
			ProjectName:   ws.ProjectName,
			Agents:        ws.Agents,
			CompletionPct: ws.CompletionPct,
			TurnCount:     ws.TurnCount,
			CommitCount:   ws.CommitCount,
			ErrorCount:    ws.ErrorCount,
			RiskLevel:     ws.RiskLevel,
			HasCollision:  ws.HasCollision,
		})
	}

	for _, c := range state.Collisions {
		var sessions []string
		anyIncluded := false
		for _, p := range c.Participants {
			sessions = append(sessions, p.SessionID)
			if includedSessions[p.SessionID] {
				anyIncluded = true
			}
		}
		if !anyIncluded {
			continue
		}
		out.Collisions = append(out.Collisions, WireCollision{
			Path:     c.Path,
			Severity: string(c.Severity),
			Sessions: sessions,
		})
	}

	for _, ev := range state.Feed {
		if ev.Project != "" && !allowed[ev.Project] {
			continue
		}
		out.Feed = append(out.Feed, WireFeedEvent{
			ID:        ev.ID,
			Kind:      ev.Kind,
			Severity:  ev.Severity,
			Project:   ev.Project,
			SessionID: ev.SessionID,
			Message:   ev.Message,
		})
	}

	out.Summary = WireSummary{
		ProjectCount:   len(out.Workstreams),
		AgentCount:     len(out.Agents),
		CollisionCount: len(out.Collisions),
		OverallRisk:    risk.LevelNominal,
	}
	for _, a := range out.Agents {
		if a.Status == string(dashboard.StatusWorking) {
			out.Summary.ActiveAgentCount++
		}
		out.Summary.OverallRisk = risk.Worse(out.Summary.OverallRisk, a.RiskLevel)
	}
	return out
}
