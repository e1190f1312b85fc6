package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "catalog-harvester context key " + string(c)
}

// RunIDKey is the key for the harvest run id in context.Context
const RunIDKey = contextKey("runID")

// HarvesterKey is the key for the configured harvester name
const HarvesterKey = contextKey("harvester")

// RecordIDKey is the key for the source record id being processed
const RecordIDKey = contextKey("recordID")

// DatasetNameKey is the key for the target dataset name being reconciled
const DatasetNameKey = contextKey("datasetName")

// ComponentKey is the key for the component name
const ComponentKey = contextKey("component")

// StageKey is the key for the current pipeline stage of an item
const StageKey = contextKey("stage")
