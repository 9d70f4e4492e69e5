package models

// Session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// Agent statuses accepted by the status endpoint.
const (
	AgentActive  = "active"
	AgentIdle    = "idle"
	AgentError   = "error"
	AgentUnknown = "unknown"
)

// Push frame types.
const (
	TypeTeamUpdate   = "team:update"
	TypeTaskUpdate   = "task:update"
	TypeMessageNew   = "message:new"
	TypeSessionEnded = "session:ended"
	TypeInitialState = "initial:state"
	TypeConnected    = "connected"
)

// Defaults.
const (
	DefaultPort                = 3847
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultHistoryLimit        = 50
	DefaultTeamEventLimit      = 50
	DefaultSubscriberBuffer    = 256
)
