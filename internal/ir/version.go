package ir

// Version constants for the record format and the engine.
const (
	// IRVersion is the record schema version written to the action log.
	IRVersion = "1"

	// EngineVersion is the synchronization engine version.
	EngineVersion = "0.2.0"
)
