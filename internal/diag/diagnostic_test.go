package diag

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuckets_SplitAndDedup(t *testing.T) {
	var b Buckets
	e := Errorf(CodeModuleNotFound, "Cannot find module './x'").At("/a.ts", 1, 8)
	w := Warningf(CodeRouteConflict, "duplicate route")
	m := Diagnostic{Category: CategoryMessage, Message: "note"}

	b.Add(e, w, m, e)

	require.Len(t, b.Errors, 1)
	require.Len(t, b.Warnings, 2)
	assert.True(t, b.HasErrors())
}

func TestBuckets_SameMessageDifferentLocation(t *testing.T) {
	var b Buckets
	b.Add(
		Errorf(CodeSyntax, "';' expected").At("/a.ts", 1, 1),
		Errorf(CodeSyntax, "';' expected").At("/a.ts", 2, 1),
	)
	assert.Len(t, b.Errors, 2)
}

func TestSort(t *testing.T) {
	ds := []Diagnostic{
		Errorf(1, "c").At("/b.ts", 1, 1),
		Errorf(1, "b").At("/a.ts", 3, 1),
		Errorf(1, "a").At("/a.ts", 1, 5),
		Errorf(1, "global"),
	}
	Sort(ds)
	var order []string
	for _, d := range ds {
		order = append(order, d.Message)
	}
	assert.Equal(t, []string{"global", "a", "b", "c"}, order)
}

func TestSyntaxError(t *testing.T) {
	err := fmt.Errorf("emit /b.ts: %w", &SyntaxError{File: "/b.ts", Line: 2, Column: 4, Msg: "';' expected"})

	se, ok := AsSyntaxError(err)
	require.True(t, ok)

	d := se.Diagnostic()
	assert.Equal(t, CategoryError, d.Category)
	assert.Equal(t, CodeSyntax, d.Code)
	assert.Empty(t, d.Stack)
	assert.True(t, d.HasLocation)
	assert.Equal(t, "/b.ts", d.File)

	_, ok = AsSyntaxError(fmt.Errorf("boom"))
	assert.False(t, ok)
}

func TestDiagnosticString(t *testing.T) {
	d := Errorf(CodeModuleNotFound, "Cannot find module './x'").At("/a.ts", 3, 9)
	assert.Equal(t, "/a.ts:3:9 - error NG2307: Cannot find module './x'", d.String())

	d = Errorf(CodeUnknownEmitError, "unknown state")
	d.Stack = "goroutine 1"
	assert.True(t, strings.HasSuffix(d.String(), "\ngoroutine 1"))
}
