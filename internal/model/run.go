package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// ErrMissingTicker is the precondition violation raised when a run is
// started without a ticker. It is the only orchestrator error that is not
// converted into a phase result.
var ErrMissingTicker = eris.New("pipeline: ticker is required")

// Phase is a state of the research pipeline.
type Phase string

const (
	PhaseCollecting   Phase = "collecting"
	PhaseValidating   Phase = "validating"
	PhaseHumanReview  Phase = "human_review"
	PhaseAnalyzing    Phase = "analyzing"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseDone         Phase = "done"
	PhaseAborted      Phase = "aborted"
)

// IsTerminal reports whether no transition leaves p.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseAborted
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseCollecting, PhaseValidating, PhaseHumanReview, PhaseAnalyzing,
		PhaseSynthesizing, PhaseDone, PhaseAborted:
		return true
	}
	return false
}

// PhaseStatus is the outcome of a single phase executor call.
type PhaseStatus string

const (
	PhaseStatusOK      PhaseStatus = "ok"
	PhaseStatusError   PhaseStatus = "error"
	PhaseStatusSkipped PhaseStatus = "skipped"
)

// PhaseResult is the uniform result of a phase. Payload holds the executor's
// typed output as JSON.
type PhaseResult struct {
	Name     string          `json:"name"`
	Status   PhaseStatus     `json:"status"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration int64           `json:"duration_ms"`
}

// OK reports whether the phase succeeded.
func (r *PhaseResult) OK() bool {
	return r != nil && r.Status == PhaseStatusOK
}

// Decode unmarshals the payload into v.
func (r *PhaseResult) Decode(v any) error {
	if r == nil || len(r.Payload) == 0 {
		return eris.New("model: phase result has no payload")
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return eris.Wrapf(err, "model: decode %s payload", r.Name)
	}
	return nil
}

// NewPhaseResult builds an ok result with payload encoded as JSON.
func NewPhaseResult(name string, payload any) (PhaseResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return PhaseResult{}, eris.Wrapf(err, "model: encode %s payload", name)
	}
	return PhaseResult{Name: name, Status: PhaseStatusOK, Payload: raw}, nil
}

// FailedPhase builds an error result carrying the message of err.
func FailedPhase(name string, err error) PhaseResult {
	return PhaseResult{Name: name, Status: PhaseStatusError, Error: err.Error()}
}

// NewsItem is a single headline gathered during collection.
type NewsItem struct {
	Title     string  `json:"title"`
	URL       string  `json:"url,omitempty"`
	Source    string  `json:"source,omitempty"`
	Published string  `json:"published,omitempty"`
	Summary   string  `json:"summary,omitempty"`
	Sentiment float64 `json:"sentiment,omitempty"`
}

// CollectionPayload is the DataCollector output.
type CollectionPayload struct {
	CompanyName string     `json:"company_name,omitempty"`
	RawText     string     `json:"raw_text"`
	Snapshot    Snapshot   `json:"snapshot"`
	News        []NewsItem `json:"news_items"`
}

// ValidationPayload is the reconciliation output recorded on the run.
type ValidationPayload struct {
	Report         ValidationReport `json:"report"`
	ReportText     string           `json:"report_text"`
	Verification   string           `json:"verification,omitempty"`
	Filled         []string         `json:"filled_metrics,omitempty"`
	FillSummary    string           `json:"fill_summary,omitempty"`
	ReferenceError []string         `json:"reference_errors,omitempty"`
}

// AnalysisPayload is the Analyzer output.
type AnalysisPayload struct {
	Analysis  string   `json:"analysis"`
	Signal    string   `json:"signal,omitempty"`
	KeyPoints []string `json:"key_points,omitempty"`
	Degraded  bool     `json:"degraded,omitempty"`
}

// RunState is the full state of a run. Only the orchestrator mutates it, and
// only between phases. Snapshot is the working data: the collected snapshot,
// replaced by the enriched one after validation, and editable during review.
type RunState struct {
	RunID       string       `json:"run_id"`
	Ticker      string       `json:"ticker"`
	Phase       Phase        `json:"phase"`
	Snapshot    Snapshot     `json:"snapshot,omitempty"`
	Collection  *PhaseResult `json:"collection_result,omitempty"`
	Validation  *PhaseResult `json:"validation_result,omitempty"`
	Analysis    *PhaseResult `json:"analysis_result,omitempty"`
	Synthesis   *PhaseResult `json:"synthesis_result,omitempty"`
	FinalReport *string      `json:"final_report"`
	Conflicts   []Conflict   `json:"conflicts"`
	AbortReason string       `json:"abort_reason,omitempty"`
	Degraded    bool         `json:"degraded,omitempty"`
}

// Results returns the phase results recorded so far, in execution order.
func (s *RunState) Results() []PhaseResult {
	var out []PhaseResult
	for _, r := range []*PhaseResult{s.Collection, s.Validation, s.Analysis, s.Synthesis} {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Checkpoint is the durable record of a suspended run.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	State     RunState  `json:"state"`
	Phase     Phase     `json:"suspended_at_phase"`
	CreatedAt time.Time `json:"created_at"`
}

// RunStatus is the lifecycle status of a run record.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuspended RunStatus = "suspended"
	RunStatusDone      RunStatus = "done"
	RunStatusAborted   RunStatus = "aborted"
)

// StatusFor maps a phase to the run status shown to operators.
func StatusFor(p Phase) RunStatus {
	switch p {
	case PhaseHumanReview:
		return RunStatusSuspended
	case PhaseDone:
		return RunStatusDone
	case PhaseAborted:
		return RunStatusAborted
	default:
		return RunStatusRunning
	}
}

// Run is the stored record of a pipeline run.
type Run struct {
	ID          string        `json:"id"`
	Ticker      string        `json:"ticker"`
	Phase       Phase         `json:"phase"`
	Status      RunStatus     `json:"status"`
	Degraded    bool          `json:"degraded"`
	AbortReason string        `json:"abort_reason,omitempty"`
	Score       int           `json:"completeness_score"`
	Confidence  Confidence    `json:"confidence_level,omitempty"`
	Phases      []PhaseResult `json:"phases,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Report is a persisted final report.
type Report struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Ticker    string    `json:"ticker"`
	Body      string    `json:"report"`
	CreatedAt time.Time `json:"created_at"`
}
