package ir

// Version constants for the record schema and engine.
const (
	// SchemaVersion is the indexing record schema version.
	SchemaVersion = "1"

	// EngineVersion is the catsync engine version.
	EngineVersion = "0.1.0"
)
