package tracing

// Span names for the task-run phases.
const (
	SpanPrepare = "taskrun.prepare"
	SpanSpawn   = "taskrun.spawn"
	SpanStream  = "taskrun.stream"
)

// Span attribute keys.
const (
	AttrSessionID     = "session.id"
	AttrSessionMode   = "session.mode"
	AttrEnvironmentID = "environment.id"
	AttrGitMode       = "git.mode"
	AttrSourceCount   = "source.count"
	AttrClaudeVersion = "claude.version"
	AttrModel         = "claude.model"
	AttrErrorMessage  = "error.message"
)

// Event names for span events.
const (
	EventWorkspaceReady  = "workspace.ready"
	EventSourceCloned    = "source.cloned"
	EventProxyStarted    = "proxy.started"
	EventUpgradeFinished = "upgrade.finished"
	EventProcessSpawned  = "process.spawned"
)
