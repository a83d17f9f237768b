package domain

// ReportRow is one line of a spreadsheet-style tax report.
type ReportRow struct {
	Line       int     `json:"line"`
	Group      string  `json:"group"`
	Descriptor string  `json:"descriptor"`
	Amount     float64 `json:"amount"`
}

type GroupResolution string

const (
	ResolvedBySubtotal GroupResolution = "subtotal"
	ResolvedByItems    GroupResolution = "items"
	ResolvedAmbiguous  GroupResolution = "ambiguous"
)

type GroupBreakdown struct {
	Group        string          `json:"group"`
	Rows         int             `json:"rows"`
	SubtotalRows int             `json:"subtotal_rows"`
	Contribution float64         `json:"contribution"`
	Resolution   GroupResolution `json:"resolution"`
	UsedLines    []int           `json:"used_lines"`
}

type AggregationResult struct {
	Total       float64          `json:"total"`
	Groups      []GroupBreakdown `json:"groups"`
	Confidence  float64          `json:"confidence"`
	Method      string           `json:"method"`
	StatedTotal *float64         `json:"stated_total,omitempty"`
	Excluded    []ReportRow      `json:"excluded,omitempty"`
}
