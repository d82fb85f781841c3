package report

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Summary counts diagnostics by severity
type Summary struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// Result is the JSON document written for CI consumption
type Result struct {
	Repository  string       `json:"repository"`
	Suite       string       `json:"suite,omitempty"`
	Summary     Summary      `json:"summary"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// NewResult builds a Result from an ordered diagnostic list
func NewResult(repository, suite string, diagnostics []Diagnostic) *Result {
	r := &Result{
		Repository:  repository,
		Suite:       suite,
		Diagnostics: diagnostics,
	}
	for _, d := range diagnostics {
		switch d.Severity {
		case SeverityError:
			r.Summary.Errors++
		case SeverityWarning:
			r.Summary.Warnings++
		}
	}
	return r
}

// Clean reports whether no diagnostics were found
func (r *Result) Clean() bool {
	return len(r.Diagnostics) == 0
}

// WriteFile writes the result as indented JSON, creating directories as needed
func (r *Result) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
