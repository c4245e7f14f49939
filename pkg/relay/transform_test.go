package relay

import (
	"testing"

	"pylon/pkg/collision"
	"pylon/pkg/dashboard"
	"pylon/pkg/risk"
)

func scopedState() *dashboard.DashboardState {
	return &dashboard.DashboardState{
		Agents: []dashboard.Agent{
			{
				SessionID:   "sess-a",
				ProjectPath: "/proj/alpha",
				ProjectName: "alpha",
				Status:      dashboard.StatusWorking,
				RiskLevel:   risk.LevelElevated,
				ErrorRate:   0.2,
				CostUSD:     3.5,
				TurnCount:   10,
			},
			{
				SessionID:   "sess-b",
				ProjectPath: "/proj/beta",
				ProjectName: "beta",
				Status:      dashboard.StatusIdle,
				RiskLevel:   risk.LevelCritical,
			},
		},
		Workstreams: []dashboard.Workstream{
			{ProjectPath: "/proj/alpha", ProjectName: "alpha", Agents: []string{"sess-a"}},
			{ProjectPath: "/proj/beta", ProjectName: "beta", Agents: []string{"sess-b"}},
		},
		Collisions: []collision.Collision{
			{
				Path:     "/proj/alpha/main.go",
				Severity: collision.SeverityWarning,
				Participants: []collision.Participant{
					{SessionID: "sess-a", Project: "/proj/alpha"},
					{SessionID: "sess-a2", Project: "/proj/alpha"},
				},
			},
			{
				Path:     "/proj/beta/util.go",
				Severity: collision.SeverityWarning,
				Participants: []collision.Participant{
					{SessionID: "sess-b", Project: "/proj/beta"},
					{SessionID: "sess-b2", Project: "/proj/beta"},
				},
			},
		},
		Feed: []dashboard.FeedEvent{
			{ID: "f1", Kind: "commit", Project: "/proj/alpha", Message: "fix auth"},
			{ID: "f2", Kind: "commit", Project: "/proj/beta", Message: "add cache"},
			{ID: "f3", Kind: "session_end", Message: "daemon restarted"},
		},
	}
}

func TestTransformFiltersByAllowList(t *testing.T) {
	t.Parallel()

	out := Transform(scopedState(), "op-1", []string{"/proj/alpha"})

	if len(out.Agents) != 1 || out.Agents[0].SessionID != "sess-a" {
		t.Fatalf("agents = %+v, want only sess-a", out.Agents)
	}
	if len(out.Workstreams) != 1 || out.Workstreams[0].ProjectPath != "/proj/alpha" {
		t.Fatalf("workstreams = %+v, want only /proj/alpha", out.Workstreams)
	}
	if out.Operator != "op-1" {
		t.Errorf("operator = %q, want op-1", out.Operator)
	}
}

func TestTransformKeepsCollisionWithIncludedParticipant(t *testing.T) {
	t.Parallel()

	out := Transform(scopedState(), "op-1", []string{"/proj/alpha"})

	if len(out.Collisions) != 1 {
		t.Fatalf("collisions = %+v, want exactly the alpha one", out.Collisions)
	}
	if out.Collisions[0].Path != "/proj/alpha/main.go" {
		t.Errorf("collision path = %q", out.Collisions[0].Path)
	}
	if len(out.Collisions[0].Sessions) != 2 {
		t.Errorf("collision sessions = %v, want both participants listed", out.Collisions[0].Sessions)
	}
}

func TestTransformFeedScopingKeepsGlobalEvents(t *testing.T) {
	t.Parallel()

	out := Transform(scopedState(), "op-1", []string{"/proj/alpha"})

	var ids []string
	for _, ev := range out.Feed {
		ids = append(ids, ev.ID)
	}
	if len(ids) != 2 || ids[0] != "f1" || ids[1] != "f3" {
		t.Errorf("feed ids = %v, want [f1 f3] (beta dropped, global kept)", ids)
	}
}

func TestTransformRecomputesScopedSummary(t *testing.T) {
	t.Parallel()

	out := Transform(scopedState(), "op-1", []string{"/proj/alpha"})

	s := out.Summary
	if s.AgentCount != 1 || s.ProjectCount != 1 || s.CollisionCount != 1 {
		t.Errorf("summary = %+v, want counts over the scoped view only", s)
	}
	if s.ActiveAgentCount != 1 {
		t.Errorf("active agents = %d, want 1", s.ActiveAgentCount)
	}
	// The critical agent in beta is outside scope; elevated is the worst
	// level visible to this target.
	if s.OverallRisk != risk.LevelElevated {
		t.Errorf("overall risk = %q, want elevated", s.OverallRisk)
	}
}

func TestTransformEmptyAllowListYieldsEmptyView(t *testing.T) {
	t.Parallel()

	out := Transform(scopedState(), "op-1", nil)

	if len(out.Agents) != 0 || len(out.Workstreams) != 0 || len(out.Collisions) != 0 {
		t.Errorf("expected empty view, got %+v", out)
	}
	if out.Summary.OverallRisk != risk.LevelNominal {
		t.Errorf("overall risk = %q, want nominal", out.Summary.OverallRisk)
	}
}
