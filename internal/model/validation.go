package model

// Confidence is the coarse trust rating derived from completeness.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// Conflict is a metric on which two independent sources disagree beyond
// tolerance.
type Conflict struct {
	Metric         string  `json:"metric"`
	PrimaryValue   float64 `json:"primary_value"`
	ReferenceValue float64 `json:"reference_value"`
	DiffPercent    float64 `json:"diff_percent"`
}

// ValidationReport summarizes the completeness of one snapshot and any
// conflicts found against a reference snapshot.
type ValidationReport struct {
	CompletenessScore  int        `json:"completeness_score"`
	CriticalPercentage float64    `json:"critical_percentage"`
	ConfidenceLevel    Confidence `json:"confidence_level"`
	AvailableCritical  int        `json:"available_critical"`
	AvailableOptional  int        `json:"available_optional"`
	AvailableAdvanced  int        `json:"available_advanced"`
	TotalCritical      int        `json:"total_critical"`
	TotalOptional      int        `json:"total_optional"`
	TotalAdvanced      int        `json:"total_advanced"`
	AvailableMetrics   int        `json:"available_metrics"`
	TotalMetrics       int        `json:"total_metrics"`
	MissingCritical    []string   `json:"missing_critical"`
	MissingOptional    []string   `json:"missing_optional"`
	MissingAdvanced    []string   `json:"missing_advanced"`
	Warnings           []string   `json:"warnings"`
	Conflicts          []Conflict `json:"conflicts"`
}
