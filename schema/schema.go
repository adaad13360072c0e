// Package schema declares the binding output contract for each CLIF
// table (column domains, numeric ranges, nullability) and checks
// finalized rows against it. A violation marks the builder failed even
// when a debug file has already been written.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrViolation wraps all schema failures so callers can test with
// errors.Is.
var ErrViolation = errors.New("schema violation")

// Violation is one failing cell.
type Violation struct {
	Row    int
	Column string
	Msg    string
}

func (v Violation) String() string {
	return fmt.Sprintf("row %d, %s: %s", v.Row, v.Column, v.Msg)
}

// maxReported bounds how many failing rows an error message carries.
const maxReported = 20

// Checker accumulates violations while a builder walks its final rows.
type Checker struct {
	table string
	viols []Violation
}

func NewChecker(table string) *Checker {
	return &Checker{table: table}
}

// Required flags an empty value in a non-nullable column.
func (c *Checker) Required(row int, column, value string) {
	if value == "" {
		c.add(row, column, "null in non-nullable column")
	}
}

// Enum flags a non-null value outside the declared domain.
func (c *Checker) Enum(row int, column, value string, domain []string) {
	if value == "" {
		return
	}
	for _, d := range domain {
		if value == d {
			return
		}
	}
	c.add(row, column, fmt.Sprintf("%q not in declared domain", value))
}

// Range flags a non-null value outside [min, max].
func (c *Checker) Range(row int, column string, value *float64, min, max float64) {
	if value == nil {
		return
	}
	if *value < min || *value > max {
		c.add(row, column, fmt.Sprintf("%g outside [%g, %g]", *value, min, max))
	}
}

func (c *Checker) add(row int, column, msg string) {
	c.viols = append(c.viols, Violation{Row: row, Column: column, Msg: msg})
}

// Violations returns everything recorded so far.
func (c *Checker) Violations() []Violation { return c.viols }

// Err returns nil when the table conforms, or an ErrViolation naming the
// specific failing rows (capped) otherwise.
func (c *Checker) Err() error {
	if len(c.viols) == 0 {
		return nil
	}
	shown := c.viols
	truncated := ""
	if len(shown) > maxReported {
		shown = shown[:maxReported]
		truncated = fmt.Sprintf(" (and %d more)", len(c.viols)-maxReported)
	}
	parts := make([]string, len(shown))
	for i, v := range shown {
		parts[i] = v.String()
	}
	return fmt.Errorf("%w: table %s: %s%s", ErrViolation, c.table, strings.Join(parts, "; "), truncated)
}
