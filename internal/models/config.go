package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/apt-tools/aptcheck/internal/deb"
	"github.com/apt-tools/aptcheck/internal/report"
)

// CheckConfig contains the configuration for a verification run. It is
// filled from flags and/or a YAML config file, validated once before any
// processing starts, and treated as immutable afterwards.
type CheckConfig struct {
	// Repository location
	RepoURL  string `yaml:"url"`
	Suite    string `yaml:"suite"`
	FlatPath string `yaml:"path"` // for flat repositories; "./" for the root folder

	// Scope. Empty lists default to what the Release file declares.
	Components    []string `yaml:"components"`
	Architectures []string `yaml:"architectures"`

	// PolicyVersion selects the rule set; empty means newest supported.
	PolicyVersion string `yaml:"policyVersion"`

	// SeverityOverrides remaps diagnostic categories
	// (syntax|policy|consistency) to error|warning|ignore.
	SeverityOverrides map[string]string `yaml:"severityOverrides"`

	// Advisory relationship fields: error|warning|ignore.
	RecommendsSeverity string `yaml:"recommends"`
	SuggestsSeverity   string `yaml:"suggests"`

	// Release signature verification
	KeyPath  string `yaml:"key"`
	RawKey   bool   `yaml:"rawKey"` // key is binary, not armored
	NoVerify bool   `yaml:"noVerify"`

	// File checks
	CheckFiles  bool `yaml:"checkFiles"`  // probe referenced file URLs
	InspectDebs bool `yaml:"inspectDebs"` // download debs and compare control

	// OutputPath receives the JSON result; empty disables it.
	OutputPath string `yaml:"output"`
}

// LoadConfigFile reads a YAML config file into the receiver. Values already
// set by flags win over file values for scalars left at their zero value in
// the file.
func (c *CheckConfig) LoadConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &CheckError{Type: ErrInvalidConfig, Context: path, Err: err}
	}
	var file CheckConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return &CheckError{Type: ErrInvalidConfig, Context: path, Err: err}
	}
	c.merge(&file)
	return nil
}

// merge fills unset fields of c from file values
func (c *CheckConfig) merge(file *CheckConfig) {
	if c.RepoURL == "" {
		c.RepoURL = file.RepoURL
	}
	if c.Suite == "" {
		c.Suite = file.Suite
	}
	if c.FlatPath == "" {
		c.FlatPath = file.FlatPath
	}
	if len(c.Components) == 0 {
		c.Components = file.Components
	}
	if len(c.Architectures) == 0 {
		c.Architectures = file.Architectures
	}
	if c.PolicyVersion == "" {
		c.PolicyVersion = file.PolicyVersion
	}
	if c.SeverityOverrides == nil {
		c.SeverityOverrides = file.SeverityOverrides
	}
	if c.RecommendsSeverity == "" {
		c.RecommendsSeverity = file.RecommendsSeverity
	}
	if c.SuggestsSeverity == "" {
		c.SuggestsSeverity = file.SuggestsSeverity
	}
	if c.KeyPath == "" {
		c.KeyPath = file.KeyPath
	}
	if c.OutputPath == "" {
		c.OutputPath = file.OutputPath
	}
	c.RawKey = c.RawKey || file.RawKey
	c.NoVerify = c.NoVerify || file.NoVerify
	c.CheckFiles = c.CheckFiles || file.CheckFiles
	c.InspectDebs = c.InspectDebs || file.InspectDebs
}

// Validate checks the configuration before any processing begins. Malformed
// configuration is the only run-fatal condition of a verification run.
func (c *CheckConfig) Validate() error {
	if c.RepoURL == "" {
		return &CheckError{Type: ErrInvalidConfig, Err: fmt.Errorf("repository URL is required")}
	}
	if c.Suite == "" && c.FlatPath == "" {
		return &CheckError{Type: ErrInvalidConfig, Err: fmt.Errorf("either a suite or a flat repository path is required")}
	}
	for _, arch := range c.Architectures {
		if !deb.ValidArchName(arch) {
			return &CheckError{Type: ErrInvalidConfig, Err: fmt.Errorf("unknown architecture %q", arch)}
		}
	}
	for category, severity := range c.SeverityOverrides {
		switch category {
		case "syntax", "policy", "consistency":
		default:
			return &CheckError{Type: ErrInvalidConfig, Err: fmt.Errorf("unknown diagnostic category %q", category)}
		}
		if _, err := report.ParseSeverity(severity); err != nil {
			return &CheckError{Type: ErrInvalidConfig, Err: err}
		}
	}
	for _, s := range []string{c.RecommendsSeverity, c.SuggestsSeverity} {
		if s == "" {
			continue
		}
		if _, err := report.ParseSeverity(s); err != nil {
			return &CheckError{Type: ErrInvalidConfig, Err: err}
		}
	}
	return nil
}

// Overrides converts the configured category overrides into report types.
// Validate must have succeeded first.
func (c *CheckConfig) Overrides() map[report.Category]report.Severity {
	if len(c.SeverityOverrides) == 0 {
		return nil
	}
	out := make(map[report.Category]report.Severity, len(c.SeverityOverrides))
	for category, severity := range c.SeverityOverrides {
		sev, _ := report.ParseSeverity(severity)
		switch category {
		case "syntax":
			out[report.CategorySyntax] = sev
		case "policy":
			out[report.CategoryPolicy] = sev
		case "consistency":
			out[report.CategoryConsistency] = sev
		}
	}
	return out
}

// ArchList returns the configured architectures as typed tokens
func (c *CheckConfig) ArchList() []deb.Arch {
	out := make([]deb.Arch, 0, len(c.Architectures))
	for _, a := range c.Architectures {
		out = append(out, deb.Arch(a))
	}
	return out
}
