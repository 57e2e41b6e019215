package part

import (
	"errors"
	"testing"
)

func adaptive(rows ...int) *AdaptiveGranularity {
	g := NewAdaptiveGranularity()
	for _, r := range rows {
		if err := g.AppendMark(r); err != nil {
			panic(err)
		}
	}
	g.Finalize()
	return g
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOptimizePreservesExpansion(t *testing.T) {
	sequences := [][]int{
		{},
		{7},
		{8192, 8192, 8192, 100},
		{8192, 8192, 8192},
		{10, 20, 10},
		{10, 10, 20},
		{5, 5, 5, 5, 1},
	}
	for _, seq := range sequences {
		var g IndexGranularity = adaptive(seq...)
		before := g.Expand()
		// optimizing twice must be the same as optimizing once
		for i := 0; i < 2; i++ {
			opt, err := g.Optimize()
			if err != nil {
				t.Fatal(err)
			}
			if opt != nil {
				g = opt
			}
			if !equalInts(g.Expand(), before) {
				t.Fatalf("expansion of %v changed to %v", before, g.Expand())
			}
			if g.TotalRows() != adaptive(seq...).TotalRows() {
				t.Fatal("total rows changed for", seq)
			}
		}
	}
}

func TestOptimizeCollapsesEqualGranules(t *testing.T) {
	opt, err := adaptive(4, 4, 4, 2).Optimize()
	if err != nil {
		t.Fatal(err)
	}
	c, ok := opt.(*ConstantGranularity)
	if !ok {
		t.Fatalf("expected constant granularity, got %T", opt)
	}
	if c.GranuleSize != 4 || c.Count != 4 || c.LastRows != 2 {
		t.Fatal("bad constant granularity", c)
	}
	if c.MarkStartingRow(3) != 12 {
		t.Fatal("bad starting row", c.MarkStartingRow(3))
	}
}

func TestOptimizeBeforeFinalIsAnError(t *testing.T) {
	g := NewAdaptiveGranularity()
	g.AppendMark(10)
	if _, err := g.Optimize(); !errors.Is(err, ErrGranularityNotFinal) {
		t.Fatal("expected ErrGranularityNotFinal, got", err)
	}
	g.Finalize()
	if err := g.AppendMark(1); !errors.Is(err, ErrGranularityFinal) {
		t.Fatal("expected ErrGranularityFinal, got", err)
	}
}

func TestConstantAppendMark(t *testing.T) {
	g := NewConstantGranularity(4)
	if err := g.AppendMark(4); err != nil {
		t.Fatal(err)
	}
	if err := g.AppendMark(3); err != nil {
		t.Fatal(err)
	}
	if err := g.AppendMark(4); !errors.Is(err, ErrBadGranule) {
		t.Fatal("expected ErrBadGranule after a short granule, got", err)
	}
	if !equalInts(g.Expand(), []int{4, 3}) {
		t.Fatal("bad expansion", g.Expand())
	}
}
