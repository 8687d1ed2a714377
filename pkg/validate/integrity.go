package validate

import (
	"fmt"

	"github.com/crystal-mush/sparsearray/pkg/sparse"
	"github.com/crystal-mush/sparsearray/pkg/vars"
)

// NameChecker verifies that an array's name parses to the scope and kind it is stored under.
type NameChecker struct{}

func (c *NameChecker) Name() string { return "name" }

func (c *NameChecker) Check(key vars.Key, a *sparse.Array) []Finding {
	scope, kind, err := vars.ParseName(key.Name)
	var desc string
	switch {
	case err != nil:
		desc = fmt.Sprintf("%q is not a valid variable name", key.Name)
	case scope != key.Scope:
		desc = fmt.Sprintf("%q names a %s variable but is stored under %s", key.Name, scope, key.Scope)
	case kind != a.Kind():
		desc = fmt.Sprintf("%q names a %s array but holds %s values", key.Name, kind, a.Kind())
	default:
		return nil
	}
	return []Finding{{
		Category:    CatBadName,
		Severity:    SevError,
		Description: desc + "; it cannot be reached from scripts",
		Fixable:     true,
		fixFunc:     func(a *sparse.Array) error { return a.Clear() },
	}}
}

// EmptyChecker reports arrays that are registered without members.
type EmptyChecker struct{}

func (c *EmptyChecker) Name() string { return "empty" }

func (c *EmptyChecker) Check(key vars.Key, a *sparse.Array) []Finding {
	if a.Len() > 0 {
		return nil
	}
	return []Finding{{
		Category:    CatEmptyArray,
		Severity:    SevInfo,
		Description: "array has no elements",
		Fixable:     true,
		fixFunc:     func(*sparse.Array) error { return nil }, // Mutate drops it
	}}
}

// SlotChecker loads every member straight from the backing and reports
// slots that are missing or hold a value of the wrong kind.
type SlotChecker struct{}

func (c *SlotChecker) Name() string { return "slots" }

func (c *SlotChecker) Check(key vars.Key, a *sparse.Array) []Finding {
	back := a.Backing()
	if back == nil {
		return nil
	}
	var findings []Finding
	for _, idx := range a.SortedIndices(false) {
		v, ok, err := back.Load(idx)
		zero := fixZero(idx)
		switch {
		case err != nil:
			findings = append(findings, Finding{
				Category:    CatMissingValue,
				Severity:    SevError,
				Index:       idx,
				Description: fmt.Sprintf("[%d] cannot be loaded: %v", idx, err),
			})
		case !ok:
			findings = append(findings, Finding{
				Category:    CatMissingValue,
				Severity:    SevWarning,
				Index:       idx,
				Description: fmt.Sprintf("[%d] is a member but has no stored value; reads return %s", idx, zeroText(a.Kind())),
				Fixable:     true,
				fixFunc:     zero,
			})
		case v.Kind != a.Kind():
			findings = append(findings, Finding{
				Category:    CatKindMismatch,
				Severity:    SevError,
				Index:       idx,
				Description: fmt.Sprintf("[%d] holds a %s value in a %s array", idx, v.Kind, a.Kind()),
				Fixable:     true,
				fixFunc:     zero,
			})
		}
	}
	return findings
}

// RangeChecker reports member indices above the array's configured limit.
type RangeChecker struct{}

func (c *RangeChecker) Name() string { return "range" }

func (c *RangeChecker) Check(key vars.Key, a *sparse.Array) []Finding {
	var findings []Finding
	max := a.MaxIndex()
	for _, idx := range a.SortedIndices(true) {
		if idx <= max {
			break
		}
		findings = append(findings, Finding{
			Category:    CatIndexRange,
			Severity:    SevError,
			Index:       idx,
			Description: fmt.Sprintf("[%d] exceeds the index limit %d", idx, max),
			Fixable:     true,
			fixFunc:     func(a *sparse.Array) error { return a.Unset(idx) },
		})
	}
	return findings
}

// fixZero rewrites index with the array kind's zero value.
func fixZero(idx uint32) func(*sparse.Array) error {
	return func(a *sparse.Array) error {
		return a.Backing().Store(idx, sparse.Zero(a.Kind()))
	}
}

func zeroText(k sparse.Kind) string {
	if k == sparse.KindText {
		return `""`
	}
	return "0"
}
