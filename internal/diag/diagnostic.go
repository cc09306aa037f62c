// Package diag holds the diagnostic model shared by the compiler front end,
// the build manager and the diagnostics worker.
package diag

import (
	"fmt"
	"sort"
	"strings"
)

// Category is the severity of a diagnostic.
type Category int

const (
	CategoryError Category = iota
	CategoryWarning
	CategoryMessage
)

func (c Category) String() string {
	switch c {
	case CategoryError:
		return "error"
	case CategoryWarning:
		return "warning"
	default:
		return "message"
	}
}

// Diagnostic codes produced by this layer. Compiler-style codes mirror the
// numbering users already know from tsc where one exists.
const (
	CodeSyntax            = 1005
	CodeUnexpectedToken   = 1109
	CodeDuplicateDecl     = 2300
	CodeExportNotFound    = 2305
	CodeModuleNotFound    = 2307
	CodeFileNotFound      = 6053
	CodeUnresolvedRoute   = 9001
	CodeRouteConflict     = 9002
	CodeNonStaticRoute    = 9003
	CodeNonStaticResource = 9004
	CodeResourceNotFound  = 9005
	CodeUnknownEmitError  = 9100
)

// Diagnostic is a structured compiler message.
type Diagnostic struct {
	Category    Category `json:"category"`
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"`   // 1-based
	Column      int      `json:"column,omitempty"` // 1-based
	HasLocation bool     `json:"has_location"`
	Message     string   `json:"message"`
	Code        int      `json:"code"`
	// Stack is set only for unknown-state failures.
	Stack string `json:"stack,omitempty"`
}

// String formats the diagnostic the way tsc prints it.
func (d Diagnostic) String() string {
	var b strings.Builder
	if d.HasLocation {
		fmt.Fprintf(&b, "%s:%d:%d - ", d.File, d.Line, d.Column)
	} else if d.File != "" {
		fmt.Fprintf(&b, "%s - ", d.File)
	}
	fmt.Fprintf(&b, "%s NG%d: %s", d.Category, d.Code, d.Message)
	if d.Stack != "" {
		b.WriteString("\n")
		b.WriteString(d.Stack)
	}
	return b.String()
}

// Errorf builds an error diagnostic without a location.
func Errorf(code int, format string, args ...interface{}) Diagnostic {
	return Diagnostic{Category: CategoryError, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Warningf builds a warning diagnostic without a location.
func Warningf(code int, format string, args ...interface{}) Diagnostic {
	return Diagnostic{Category: CategoryWarning, Code: code, Message: fmt.Sprintf(format, args...)}
}

// At returns a copy of d located at file:line:column.
func (d Diagnostic) At(file string, line, column int) Diagnostic {
	d.File = file
	d.Line = line
	d.Column = column
	d.HasLocation = true
	return d
}

type dedupKey struct {
	cat     Category
	file    string
	line    int
	col     int
	code    int
	message string
}

// Buckets aggregates a build's diagnostics into errors and warnings.
// Messages are folded into warnings. Duplicates are collapsed.
type Buckets struct {
	Errors   []Diagnostic
	Warnings []Diagnostic
	seen     map[dedupKey]bool
}

// Add appends diagnostics, skipping ones already present.
func (b *Buckets) Add(ds ...Diagnostic) {
	if b.seen == nil {
		b.seen = make(map[dedupKey]bool)
	}
	for _, d := range ds {
		k := dedupKey{d.Category, d.File, d.Line, d.Column, d.Code, d.Message}
		if b.seen[k] {
			continue
		}
		b.seen[k] = true
		if d.Category == CategoryError {
			b.Errors = append(b.Errors, d)
		} else {
			b.Warnings = append(b.Warnings, d)
		}
	}
}

// HasErrors reports whether the build failed.
func (b *Buckets) HasErrors() bool {
	return len(b.Errors) > 0
}

// Sort orders both buckets by file, line and column.
func (b *Buckets) Sort() {
	Sort(b.Errors)
	Sort(b.Warnings)
}

// Sort orders diagnostics by location; unlocated ones come first.
func Sort(ds []Diagnostic) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, c := ds[i], ds[j]
		if a.File != c.File {
			return a.File < c.File
		}
		if a.Line != c.Line {
			return a.Line < c.Line
		}
		return a.Column < c.Column
	})
}

// Count returns the number of diagnostics with the given category.
func Count(ds []Diagnostic, cat Category) int {
	n := 0
	for _, d := range ds {
		if d.Category == cat {
			n++
		}
	}
	return n
}
