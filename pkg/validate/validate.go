// Package validate audits the arrays held by a registry: member indices
// whose value is missing or of the wrong kind, indices beyond the array's
// limit, names that do not resolve to their stored scope, and empty arrays.
// Findings can be fixed individually or per category.
package validate

import (
	"fmt"
	"sort"

	"github.com/crystal-mush/sparsearray/pkg/sparse"
	"github.com/crystal-mush/sparsearray/pkg/vars"
)

// Category classifies the type of finding.
type Category int

const (
	CatMissingValue Category = iota // Member index with no stored value
	CatKindMismatch                 // Stored value of the wrong kind
	CatIndexRange                   // Member index above the array's limit
	CatBadName                      // Name does not parse to the stored scope/kind
	CatEmptyArray                   // Registered array with no members
)

func (c Category) String() string {
	switch c {
	case CatMissingValue:
		return "missing-value"
	case CatKindMismatch:
		return "kind-mismatch"
	case CatIndexRange:
		return "index-range"
	case CatBadName:
		return "bad-name"
	case CatEmptyArray:
		return "empty-array"
	default:
		return "unknown"
	}
}

// Severity indicates how serious a finding is.
type Severity int

const (
	SevError   Severity = iota // Reads return wrong data
	SevWarning                 // Should be reviewed
	SevInfo                    // Informational only
)

func (s Severity) String() string {
	switch s {
	case SevError:
		return "error"
	case SevWarning:
		return "warning"
	case SevInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Finding represents a single issue detected in one array.
type Finding struct {
	ID          string   `json:"id"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Key         string   `json:"key"`
	Index       uint32   `json:"index,omitempty"`
	Description string   `json:"description"`
	Fixable     bool     `json:"fixable"`
	Fixed       bool     `json:"fixed"`

	key     vars.Key
	fixFunc func(*sparse.Array) error // run under the registry lock
}

// Checker inspects one array and reports its findings.
type Checker interface {
	Name() string
	Check(key vars.Key, a *sparse.Array) []Finding
}

// Validator orchestrates running all checkers against a registry.
type Validator struct {
	reg      *vars.Registry
	checkers []Checker
	findings []Finding
}

// New creates a Validator with all built-in checkers registered.
func New(reg *vars.Registry) *Validator {
	return &Validator{
		reg: reg,
		checkers: []Checker{
			&NameChecker{},
			&EmptyChecker{},
			&SlotChecker{},
			&RangeChecker{},
		},
	}
}

// Run executes all checkers and returns findings sorted by key then index.
func (v *Validator) Run() []Finding {
	v.findings = nil
	v.reg.Each(func(key vars.Key, a *sparse.Array) bool {
		for _, c := range v.checkers {
			for _, f := range c.Check(key, a) {
				f.key = key
				f.Key = key.String()
				v.findings = append(v.findings, f)
			}
		}
		return true
	})
	sort.SliceStable(v.findings, func(i, j int) bool {
		fi, fj := v.findings[i], v.findings[j]
		if fi.key != fj.key {
			return fi.key.Less(fj.key)
		}
		return fi.Index < fj.Index
	})
	for i := range v.findings {
		v.findings[i].ID = fmt.Sprintf("%s-%d", v.findings[i].Category, i)
	}
	return v.findings
}

// Findings returns the current findings (after Run has been called).
func (v *Validator) Findings() []Finding {
	return v.findings
}

// ApplyFix applies a single fix by finding ID. Returns error if not found or not fixable.
func (v *Validator) ApplyFix(id string) error {
	for i := range v.findings {
		if v.findings[i].ID == id {
			return v.apply(&v.findings[i])
		}
	}
	return fmt.Errorf("finding %s not found", id)
}

// ApplyAll applies all fixable findings in the given category. Returns count of fixes applied.
func (v *Validator) ApplyAll(cat Category) (int, error) {
	count := 0
	for i := range v.findings {
		f := &v.findings[i]
		if f.Category != cat || !f.Fixable || f.Fixed {
			continue
		}
		if err := v.apply(f); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (v *Validator) apply(f *Finding) error {
	if !f.Fixable || f.fixFunc == nil {
		return fmt.Errorf("finding %s is not fixable", f.ID)
	}
	if f.Fixed {
		return fmt.Errorf("finding %s is already fixed", f.ID)
	}
	if err := v.reg.Mutate(f.key, f.fixFunc); err != nil {
		return fmt.Errorf("fix %s: %w", f.ID, err)
	}
	f.Fixed = true
	return nil
}

// Summary returns counts of findings per category.
func (v *Validator) Summary() map[Category]int {
	m := make(map[Category]int)
	for _, f := range v.findings {
		m[f.Category]++
	}
	return m
}

// SummaryByStatus returns counts of fixed vs unfixed findings per category.
func (v *Validator) SummaryByStatus() map[Category][2]int {
	m := make(map[Category][2]int) // [0]=unfixed, [1]=fixed
	for _, f := range v.findings {
		counts := m[f.Category]
		if f.Fixed {
			counts[1]++
		} else {
			counts[0]++
		}
		m[f.Category] = counts
	}
	return m
}

// Check runs a full audit of reg and returns its report.
func Check(reg *vars.Registry) *Report {
	v := New(reg)
	v.Run()
	return GenerateReport(v)
}
