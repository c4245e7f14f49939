// Package dashboard composes per-session turns, risk, and collisions into
// the aggregated operational picture: workstreams (one per project), a
// chronological feed, and a summary. The whole state is rebuilt from scratch
// on every tick; only the previous tick's serialized form is retained, for
// change detection.
package dashboard

import (
	"time"

	"pylon/pkg/collision"
	"pylon/pkg/risk"
	"pylon/pkg/transcript"
	"pylon/pkg/turns"
)

// AgentStatus is the coarse activity state of one session.
type AgentStatus string

// Agent status constants.
const (
	StatusWorking AgentStatus = "working"
	StatusIdle    AgentStatus = "idle"
)

// Agent is the dashboard view of one session.
type Agent struct {
	SessionID       string              `json:"sessionId"`
	Operator        string              `json:"operator,omitempty"`
	ProjectPath     string              `json:"projectPath"`
	ProjectName     string              `json:"projectName"`
	Model           string              `json:"model,omitempty"`
	Status          AgentStatus         `json:"status"`
	RiskLevel       risk.Level          `json:"riskLevel"`
	ErrorRate       float64             `json:"errorRate"`
	ContextUsagePct float64             `json:"contextUsagePct"`
	CostUSD         float64             `json:"costUsd"`
	TurnCount       int                 `json:"turnCount"`
	CommitCount     int                 `json:"commitCount"`
	ErrorCount      int                 `json:"errorCount"`
	Signals         []risk.SpinSignal   `json:"signals,omitempty"`
	Hotspots        []risk.Hotspot      `json:"hotspots,omitempty"`
	LastActivity    time.Time           `json:"lastActivity"`
	LastGoal        string              `json:"lastGoal,omitempty"`
	Tasks           []Task              `json:"tasks,omitempty"`
}

// Task is one plan item extracted from the session's latest task list.
type Task struct {
	Content string `json:"content"`
	Status  string `json:"status"` // pending, in_progress, completed
}

// Workstream aggregates all agents operating on one project. Lifetime is a
// single aggregation pass.
type Workstream struct {
	ProjectPath   string     `json:"projectPath"`
	ProjectName   string     `json:"projectName"`
	Agents        []string   `json:"agents"` // session ids, sorted
	CompletionPct float64    `json:"completionPct"`
	TurnCount     int        `json:"turnCount"`
	CommitCount   int        `json:"commitCount"`
	ErrorCount    int        `json:"errorCount"`
	Tasks         []Task     `json:"tasks,omitempty"`
	RiskLevel     risk.Level `json:"riskLevel"`
	ErrorRate     float64    `json:"errorRate"`
	HasCollision  bool       `json:"hasCollision"`
}

// FeedEvent is one user-visible notable occurrence. ID is derived from the
// event's content so rebuilding the feed never duplicates an entry.
type FeedEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // collision, commit, compaction, plan, error, session_end
	Severity  string    `json:"severity,omitempty"`
	Project   string    `json:"project,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
}

// Summary is the headline numbers across all workstreams.
type Summary struct {
	ProjectCount       int        `json:"projectCount"`
	AgentCount         int        `json:"agentCount"`
	ActiveAgentCount   int        `json:"activeAgentCount"`
	CollisionCount     int        `json:"collisionCount"`
	CriticalCollisions int        `json:"criticalCollisions"`
	TotalCostUSD       float64    `json:"totalCostUsd"`
	OverallRisk        risk.Level `json:"overallRisk"`
}

// DashboardState is the root aggregate, produced fresh each tick.
type DashboardState struct {
	GeneratedAt time.Time             `json:"generatedAt"`
	Operator    string                `json:"operator,omitempty"`
	Agents      []Agent               `json:"agents"`
	Workstreams []Workstream          `json:"workstreams"`
	Collisions  []collision.Collision `json:"collisions"`
	Feed        []FeedEvent           `json:"feed"`
	Summary     Summary               `json:"summary"`
}

// SessionState is one session carried through the pipeline: discovery
// metadata, its segmented turns, and its risk snapshot.
type SessionState struct {
	Session transcript.Session
	Turns   []*turns.TurnNode
	Risk    *risk.AgentRisk
}
