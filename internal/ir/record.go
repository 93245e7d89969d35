package ir

// ActionRecord is a completed invocation of a concept operation.
//
// Actions fill Output; queries fill Rows. Records live in the flow history
// for the rest of the cascade and may be written to the action log.
type ActionRecord struct {
	ID     string   `json:"id"` // Content-addressed, see RecordID
	Flow   string   `json:"flow"`
	Seq    int64    `json:"seq"` // Logical clock
	Op     OpRef    `json:"op"`
	Kind   OpKind   `json:"kind"`
	Input  Record   `json:"input"`
	Output Record   `json:"output,omitempty"`
	Rows   []Record `json:"rows,omitempty"`

	// Cause is the firing that produced this invocation; empty for external calls.
	Cause string `json:"cause,omitempty"`
}

// Firing records one rule instance producing then invocations for one frame.
type Firing struct {
	ID          string   `json:"id"`
	Flow        string   `json:"flow"`
	Rule        string   `json:"rule"`
	MatchKey    string   `json:"match_key"`  // Rule + matched record ids, see MatchKey
	RecordIDs   []string `json:"record_ids"` // Matched records in when-clause order
	BindingHash string   `json:"binding_hash"`
	Index       int      `json:"index"` // Frame position within the match
	Frame       Record   `json:"frame"`
	Seq         int64    `json:"seq"`
}

// ProvenanceEdge links a firing to an action record it caused.
type ProvenanceEdge struct {
	FiringID string `json:"firing_id"`
	RecordID string `json:"record_id"`
}
