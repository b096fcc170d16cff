// Package infer assigns a semantic type and confidence to each column of a
// table by running a fixed cascade of pattern detectors.
package infer

import (
	"fmt"
	"strings"
)

// DetectedType is the semantic type of a column. The set is closed.
type DetectedType uint8

const (
	TypeText DetectedType = iota
	TypeEmpty
	TypeCurrency
	TypePercentage
	TypeDate
	TypeID
	TypeInteger
	TypeFloat
	TypeCategorical
	// TypeUnknown marks a detector that rejected a column, or a column
	// with no signature at all.
	TypeUnknown
)

var typeNames = map[DetectedType]string{
	TypeText:        "text",
	TypeEmpty:       "empty",
	TypeCurrency:    "currency",
	TypePercentage:  "percentage",
	TypeDate:        "date",
	TypeID:          "id",
	TypeInteger:     "integer",
	TypeFloat:       "float",
	TypeCategorical: "categorical",
	TypeUnknown:     "unknown",
}

// AllTypes lists every DetectedType.
func AllTypes() []DetectedType {
	return []DetectedType{
		TypeText, TypeEmpty, TypeCurrency, TypePercentage, TypeDate,
		TypeID, TypeInteger, TypeFloat, TypeCategorical, TypeUnknown,
	}
}

func (t DetectedType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("DetectedType(%d)", uint8(t))
}

// IsNumeric reports whether values of this type clean to numbers.
func (t DetectedType) IsNumeric() bool {
	switch t {
	case TypeCurrency, TypePercentage, TypeInteger, TypeFloat:
		return true
	default:
		return false
	}
}

// ParseType parses a type name as produced by String.
func ParseType(s string) (DetectedType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return TypeText, fmt.Errorf("unknown detected type: %q", s)
}

func (t DetectedType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *DetectedType) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// validationRules is the fixed rule lookup per type.
func validationRules(t DetectedType) []string {
	switch t {
	case TypeCurrency:
		return []string{"numeric_format", "currency_symbol"}
	case TypePercentage:
		return []string{"numeric_format", "percentage_symbol"}
	case TypeDate:
		return []string{"date_format", "chronological_order"}
	case TypeID:
		return []string{"unique_values", "format_pattern"}
	case TypeInteger:
		return []string{"numeric_format", "integer_constraint"}
	case TypeFloat:
		return []string{"numeric_format"}
	case TypeCategorical:
		return []string{"category_values", "no_nulls"}
	case TypeText:
		return []string{"string_format", "length_constraints"}
	default:
		return []string{"basic_validation"}
	}
}
