package report

import "sort"

// Aggregator collects diagnostics from the validator and resolver phases
// and produces the final ordered report. It is not safe for concurrent use;
// pipeline workers each keep a private slice and Merge them afterwards so
// that goroutine scheduling cannot leak into the report order.
type Aggregator struct {
	diagnostics []Diagnostic
	overrides   map[Category]Severity
}

// NewAggregator creates an aggregator. Overrides remap the default severity
// of whole categories and may be nil.
func NewAggregator(overrides map[Category]Severity) *Aggregator {
	return &Aggregator{overrides: overrides}
}

// Add records a single diagnostic, applying any severity override for its
// category. Diagnostics overridden to ignore are dropped.
func (a *Aggregator) Add(d Diagnostic) {
	if sev, ok := a.overrides[d.Category]; ok {
		d.Severity = sev
	}
	if d.Severity == SeverityIgnore {
		return
	}
	a.diagnostics = append(a.diagnostics, d)
}

// Merge records a batch of diagnostics produced by one worker
func (a *Aggregator) Merge(batch []Diagnostic) {
	for _, d := range batch {
		a.Add(d)
	}
}

// Report deduplicates and orders the collected diagnostics: severity
// descending, then origin file and line, then category. The result is
// deterministic for identical input regardless of collection order.
func (a *Aggregator) Report() []Diagnostic {
	seen := make(map[string]bool, len(a.diagnostics))
	out := make([]Diagnostic, 0, len(a.diagnostics))
	for _, d := range a.diagnostics {
		k := d.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, d)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		if out[i].Origin.File != out[j].Origin.File {
			return out[i].Origin.File < out[j].Origin.File
		}
		if out[i].Origin.Line != out[j].Origin.Line {
			return out[i].Origin.Line < out[j].Origin.Line
		}
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Message < out[j].Message
	})

	return out
}

// Len returns the number of diagnostics collected so far, duplicates included
func (a *Aggregator) Len() int {
	return len(a.diagnostics)
}
