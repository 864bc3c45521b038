package track

import (
	"io"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/trackpyramid/coverage"
	"github.com/grailbio/trackpyramid/loops"
	"github.com/grailbio/trackpyramid/pyramid"
)

// Kind is the kind of a dataset, and of the rows of its tables.
type Kind int

const (
	// Coverage datasets hold bedGraph records.
	Coverage Kind = iota
	// Loops datasets hold bedpe records.
	Loops
)

func (k Kind) String() string {
	if k == Loops {
		return loops.Kind
	}
	return coverage.Kind
}

// Table is the result of a profile query.  Exactly one of Coverage and Loops
// is used, as given by Kind.
type Table struct {
	Kind Kind
	// Level is the pyramid level the rows were read from.
	Level    pyramid.Level
	Coverage []coverage.Record
	Loops    []loops.Record
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t.Kind == Loops {
		return len(t.Loops)
	}
	return len(t.Coverage)
}

// WriteTSV writes the rows of t as bedGraph or bedpe lines.
func (t *Table) WriteTSV(w io.Writer) error {
	tw := tsv.NewWriter(w)
	row := func(fields []string) error {
		for _, f := range fields {
			tw.WriteString(f)
		}
		return tw.EndLine()
	}
	switch t.Kind {
	case Coverage:
		for _, r := range t.Coverage {
			if err := row(r.Fields()); err != nil {
				return err
			}
		}
	case Loops:
		for _, r := range t.Loops {
			if err := row(r.Fields()); err != nil {
				return err
			}
		}
	}
	return tw.Flush()
}

func emptyTable(kind Kind) *Table {
	t := &Table{Kind: kind, Level: pyramid.Raw}
	if kind == Loops {
		t.Loops = []loops.Record{}
	} else {
		t.Coverage = []coverage.Record{}
	}
	return t
}
