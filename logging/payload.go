package logging

// PayloadKind discriminates structured payload variants.
type PayloadKind string

const (
	PayloadTable    PayloadKind = "table"
	PayloadTree     PayloadKind = "tree"
	PayloadMetrics  PayloadKind = "metrics"
	PayloadProgress PayloadKind = "progress"
)

// Payload is a structured log value rendered specially by the console sink
// and consumed verbatim by UI subscribers. Exactly one content field is set,
// matching Kind.
type Payload struct {
	Kind  PayloadKind `json:"kind"`
	Title string      `json:"title"`

	Table    *TablePayload    `json:"table,omitempty"`
	Tree     Tree             `json:"tree,omitempty"`
	Metrics  map[string]any   `json:"metrics,omitempty"`
	Progress *ProgressPayload `json:"progress,omitempty"`
}

// TablePayload carries ordered headers and rows.
type TablePayload struct {
	Headers  []string          `json:"headers"`
	Rows     [][]string        `json:"rows"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Tree is a nested label-to-children mapping. Values are either a nested
// Tree (map[string]any after JSON round-trip), a scalar leaf, or nil for a
// bare label.
type Tree map[string]any

// ProgressStatus is the lifecycle state of a tracked step.
type ProgressStatus string

const (
	ProgressStarted   ProgressStatus = "started"
	ProgressRunning   ProgressStatus = "progress"
	ProgressCompleted ProgressStatus = "completed"
	ProgressFailed    ProgressStatus = "failed"
)

// ProgressPayload reports step progress. Rate is units per second computed
// from the previous update; ETASeconds is remaining/rate when rate > 0.
type ProgressPayload struct {
	StepName   string         `json:"step_name"`
	Status     ProgressStatus `json:"status"`
	Percent    *float64       `json:"percent,omitempty"`
	ETASeconds *float64       `json:"eta_seconds,omitempty"`
	Current    *int           `json:"current,omitempty"`
	Total      *int           `json:"total,omitempty"`
	Rate       *float64       `json:"rate,omitempty"`
}

// NewTable builds a table payload.
func NewTable(title string, headers []string, rows [][]string, metadata map[string]string) *Payload {
	return &Payload{
		Kind:  PayloadTable,
		Title: title,
		Table: &TablePayload{Headers: headers, Rows: rows, Metadata: metadata},
	}
}

// NewTree builds a tree payload.
func NewTree(title string, tree Tree) *Payload {
	return &Payload{Kind: PayloadTree, Title: title, Tree: tree}
}

// NewMetrics builds a metrics payload.
func NewMetrics(title string, metrics map[string]any) *Payload {
	return &Payload{Kind: PayloadMetrics, Title: title, Metrics: metrics}
}
