package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the run-input document enumerating what to ingest.
type Manifest struct {
	Venue             string         `yaml:"venue"`
	Window            Window         `yaml:"window"`
	Sources           []SourceSpec   `yaml:"sources"`
	MissingDataPolicy string         `yaml:"missing_data_policy"`
	Retry             *RetryOverride `yaml:"retry"`
	Output            Output         `yaml:"output"`
}

// Window is the requested ingestion window. End may be the literal "current",
// which resolves to today at run start.
type Window struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// SourceSpec describes one source family's slice of the manifest.
type SourceSpec struct {
	Kind              string            `yaml:"kind"`
	Symbols           []string          `yaml:"symbols"`
	Series            []string          `yaml:"series"`
	Aliases           map[string]string `yaml:"aliases"`
	Items             []SyntheticItem   `yaml:"items"`
	MissingDataPolicy string            `yaml:"missing_data_policy"`
}

// SyntheticItem declares one formula-generated series.
type SyntheticItem struct {
	Symbol     string  `yaml:"symbol"`
	Type       string  `yaml:"type"`
	StartValue float64 `yaml:"start_value"`
	GrowthRate float64 `yaml:"growth_rate"`
}

// RetryOverride carries optional retry-policy overrides from the manifest.
type RetryOverride struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	Strategy    string `yaml:"strategy"`
}

// Output names the run's artifact locations.
type Output struct {
	StorePath   string `yaml:"store_path"`
	ColumnarDir string `yaml:"columnar_dir"`
	ReportPath  string `yaml:"report_path"`
}

// Entry is one (symbol, source, window) ingestion task derived from the
// manifest.
type Entry struct {
	Symbol string
	Source Source
	Alias  string
	Start  string
	End    string
	Policy FillPolicy
}

// LoadManifest reads and validates a YAML manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestError{Detail: fmt.Sprintf("read %s: %v", path, err)}
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates manifest bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestError{Detail: fmt.Sprintf("parse yaml: %v", err)}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

const dateLayout = "2006-01-02"

// Validate checks the manifest's structural contract. All violations are
// ManifestError so callers can map them to exit code 2 before any task runs.
func (m *Manifest) Validate() error {
	if m.Venue == "" {
		return &ManifestError{Detail: "venue is required"}
	}
	start, err := time.Parse(dateLayout, m.Window.Start)
	if err != nil {
		return &ManifestError{Detail: fmt.Sprintf("window.start %q is not an ISO-8601 date", m.Window.Start)}
	}
	if m.Window.End != "current" {
		end, err := time.Parse(dateLayout, m.Window.End)
		if err != nil {
			return &ManifestError{Detail: fmt.Sprintf("window.end %q is not an ISO-8601 date or \"current\"", m.Window.End)}
		}
		if start.After(end) {
			return &ManifestError{Detail: fmt.Sprintf("window start %s is after end %s", m.Window.Start, m.Window.End)}
		}
	}
	if len(m.Sources) == 0 {
		return &ManifestError{Detail: "at least one source descriptor is required"}
	}
	if _, err := ParseFillPolicy(m.MissingDataPolicy); err != nil {
		return &ManifestError{Detail: err.Error()}
	}
	for i, src := range m.Sources {
		source, err := ParseSource(src.Kind)
		if err != nil {
			return &ManifestError{Detail: fmt.Sprintf("sources[%d]: %v", i, err)}
		}
		if _, err := ParseFillPolicy(src.MissingDataPolicy); err != nil {
			return &ManifestError{Detail: fmt.Sprintf("sources[%d]: %v", i, err)}
		}
		switch source {
		case SourceEquity:
			if len(src.Symbols) == 0 {
				return &ManifestError{Detail: fmt.Sprintf("sources[%d]: equity descriptor needs symbols", i)}
			}
		case SourceMacro:
			if len(src.Series) == 0 {
				return &ManifestError{Detail: fmt.Sprintf("sources[%d]: macro descriptor needs series", i)}
			}
		case SourceSynthetic:
			if len(src.Items) == 0 {
				return &ManifestError{Detail: fmt.Sprintf("sources[%d]: synthetic descriptor needs items", i)}
			}
			for _, item := range src.Items {
				if item.Symbol == "" {
					return &ManifestError{Detail: fmt.Sprintf("sources[%d]: synthetic item without symbol", i)}
				}
				if item.Type != "linear" && item.Type != "cash" {
					return &ManifestError{Detail: fmt.Sprintf("sources[%d]: synthetic type %q is not linear or cash", i, item.Type)}
				}
			}
		}
	}
	if m.Output.StorePath == "" {
		return &ManifestError{Detail: "output.store_path is required"}
	}
	return nil
}

// ResolveEnd returns the effective window end: "current" resolves to today,
// and an explicit end past today is clamped to today. ISO dates compare
// lexicographically.
func (m *Manifest) ResolveEnd(today string) string {
	if m.Window.End == "current" || m.Window.End > today {
		return today
	}
	return m.Window.End
}

// Entries expands source descriptors into per-symbol ingestion tasks, in
// manifest order. today resolves a "current" window end.
func (m *Manifest) Entries(today string) []Entry {
	defaultPolicy, _ := ParseFillPolicy(m.MissingDataPolicy)
	end := m.ResolveEnd(today)

	var entries []Entry
	for _, src := range m.Sources {
		source, _ := ParseSource(src.Kind)
		policy := defaultPolicy
		if src.MissingDataPolicy != "" {
			policy, _ = ParseFillPolicy(src.MissingDataPolicy)
		}
		switch source {
		case SourceEquity:
			for _, sym := range src.Symbols {
				entries = append(entries, Entry{
					Symbol: sym, Source: source,
					Start: m.Window.Start, End: end, Policy: policy,
				})
			}
		case SourceMacro:
			for _, id := range src.Series {
				entries = append(entries, Entry{
					Symbol: id, Source: source, Alias: src.Aliases[id],
					Start: m.Window.Start, End: end, Policy: policy,
				})
			}
		case SourceSynthetic:
			for _, item := range src.Items {
				entries = append(entries, Entry{
					Symbol: item.Symbol, Source: source,
					Start: m.Window.Start, End: end, Policy: policy,
				})
			}
		}
	}
	return entries
}

// SyntheticItems collects every synthetic item across source descriptors.
func (m *Manifest) SyntheticItems() []SyntheticItem {
	var items []SyntheticItem
	for _, src := range m.Sources {
		if src.Kind == "synthetic" {
			items = append(items, src.Items...)
		}
	}
	return items
}

// HasSource reports whether any descriptor uses the given source family.
func (m *Manifest) HasSource(source Source) bool {
	for _, src := range m.Sources {
		if s, err := ParseSource(src.Kind); err == nil && s == source {
			return true
		}
	}
	return false
}
