// Package relay forwards a filtered, privacy-scoped view of the dashboard
// state to remote relay targets over persistent connections. It owns the
// wire protocol, the per-target connection state machine, the allow-list
// transform, the persisted target store, and connect-link provisioning.
package relay

import (
	"pylon/pkg/risk"
)

// MessageType tags a relay wire message.
type MessageType string

// Wire message types. Client-to-server: auth, heartbeat, state_update.
// Server-to-client: auth_ok, auth_error.
const (
	MsgAuth        MessageType = "auth"
	MsgHeartbeat   MessageType = "heartbeat"
	MsgStateUpdate MessageType = "state_update"
	MsgAuthOK      MessageType = "auth_ok"
	MsgAuthError   MessageType = "auth_error"
)

// Message is one line-delimited JSON frame on the relay socket. Fields are
// populated per type; unused fields are omitted.
type Message struct {
	Type       MessageType `json:"type"`
	Token      string      `json:"token,omitempty"`      // auth
	PylonID    string      `json:"pylonId,omitempty"`    // auth
	OperatorID string      `json:"operatorId,omitempty"` // auth_ok
	Reason     string      `json:"reason,omitempty"`     // auth_error
	State      *WireState  `json:"state,omitempty"`      // state_update
}

// WireState is the external representation of the dashboard, scoped to a
// target's allow-listed projects. It carries only operational metadata,
// never file contents, shell commands, or credentials.
type WireState struct {
	Operator    string           `json:"operator,omitempty"`
	Agents      []WireAgent      `json:"agents"`
	Workstreams []WireWorkstream `json:"workstreams"`
	Collisions  []WireCollision  `json:"collisions"`
	Feed        []WireFeedEvent  `json:"feed"`
	Summary     WireSummary      `json:"summary"`
}

// WireAgent is the remote-safe view of one session.
type WireAgent struct {
	SessionID       string     `json:"sessionId"`
	ProjectPath     string     `json:"projectPath"`
	ProjectName     string     `json:"projectName"`
	Status          string     `json:"status"`
	RiskLevel       risk.Level `json:"riskLevel"`
	ErrorRate       float64    `json:"errorRate"`
	ContextUsagePct float64    `json:"contextUsagePct"`
	CostUSD         float64    `json:"costUsd"`
	TurnCount       int        `json:"turnCount"`
	CommitCount     int        `json:"commitCount"`
	LastGoal        string     `json:"lastGoal,omitempty"`
}

// WireWorkstream is the remote-safe view of one project aggregate.
type WireWorkstream struct {
	ProjectPath   string     `json:"projectPath"`
	ProjectName   string     `json:"projectName"`
	Agents        []string   `json:"agents"`
	CompletionPct float64    `json:"completionPct"`
	TurnCount     int        `json:"turnCount"`
	CommitCount   int        `json:"commitCount"`
	ErrorCount    int        `json:"errorCount"`
	RiskLevel     risk.Level `json:"riskLevel"`
	HasCollision  bool       `json:"hasCollision"`
}

// WireCollision is the remote-safe view of one collision.
type WireCollision struct {
	Path     string   `json:"path"`
	Severity string   `json:"severity"`
	Sessions []string `json:"sessions"`
}

// WireFeedEvent is the remote-safe view of one feed entry.
type WireFeedEvent struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Severity  string `json:"severity,omitempty"`
	Project   string `json:"project,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

// WireSummary is the remote-safe headline numbers for the scoped view.
type WireSummary struct {
	ProjectCount     int        `json:"projectCount"`
	AgentCount       int        `json:"agentCount"`
	ActiveAgentCount int        `json:"activeAgentCount"`
	CollisionCount   int        `json:"collisionCount"`
	OverallRisk      risk.Level `json:"overallRisk"`
}
