// Public domain.

package match_test

import (
	"math"
	"testing"

	"github.com/soniakeys/jointfit/geom"
	"github.com/soniakeys/jointfit/match"
)

func fat(x, y float64) geom.FatPoint {
	return geom.FatPoint{Point: geom.Point{X: x, Y: y}, Vx: 1, Vy: 1}
}

func TestCollect(t *testing.T) {
	l1 := []match.Entry{
		{Pos: fat(0, 0), Obj: "a"},
		{Pos: fat(10, 10), Obj: "b"},
		{Pos: fat(50, 50), Obj: "c"}, // no counterpart
	}
	l2 := []match.Entry{
		{Pos: fat(.1, 0), Obj: "A"},
		{Pos: fat(10, 10.2), Obj: "B"},
	}
	ml := match.Collect(l1, l2, geom.Identity{}, 1)
	if len(ml.Matches) != 2 {
		t.Fatal("matches:", len(ml.Matches))
	}
	if ml.Matches[0].S1 != "a" || ml.Matches[0].S2 != "A" {
		t.Fatal("first pair:", ml.Matches[0])
	}
	if math.Abs(ml.Matches[1].Distance-.2) > 1e-12 {
		t.Fatal("distance:", ml.Matches[1].Distance)
	}
}

func TestCollectDeterministic(t *testing.T) {
	var l1, l2 []match.Entry
	for i := 0; i < 40; i++ {
		x := float64(i%8) * 5
		y := float64(i/8) * 5
		l1 = append(l1, match.Entry{Pos: fat(x, y), Obj: i})
		l2 = append(l2, match.Entry{Pos: fat(x+.1, y), Obj: i})
	}
	a := match.Collect(l1, l2, geom.Identity{}, 1)
	b := match.Collect(l1, l2, geom.Identity{}, 1)
	if len(a.Matches) != len(b.Matches) {
		t.Fatal("lengths differ across runs")
	}
	for i := range a.Matches {
		if a.Matches[i].S1 != b.Matches[i].S1 ||
			a.Matches[i].S2 != b.Matches[i].S2 {
			t.Fatal("pair", i, "differs across runs")
		}
	}
}

func TestRemoveAmbiguities(t *testing.T) {
	ml := &match.StarMatchList{Matches: []match.StarMatch{
		{Point1: fat(0, 0), Point2: fat(0, .3), S1: "a", S2: "X", Distance: .3},
		{Point1: fat(0, 0), Point2: fat(.1, 0), S1: "a", S2: "Y", Distance: .1},
		{Point1: fat(5, 5), Point2: fat(5.2, 5), S1: "b", S2: "Y", Distance: .2},
	}}
	ml.RemoveAmbiguities(3)
	if len(ml.Matches) != 1 {
		t.Fatal("kept:", len(ml.Matches))
	}
	m := ml.Matches[0]
	if m.S1 != "a" || m.S2 != "Y" {
		t.Fatal("kept pair:", m)
	}
}

func TestRefineTransfo(t *testing.T) {
	truth := geom.Lin{Dx: 2, Dy: -1, A11: 1.001, A12: 1e-4,
		A21: -2e-4, A22: .999}
	var ms []match.StarMatch
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			p := geom.Point{float64(i) * 100, float64(j) * 100}
			ms = append(ms, match.StarMatch{
				Point1: geom.FatPoint{Point: p, Vx: 1e-4, Vy: 1e-4},
				Point2: geom.FatPoint{Point: truth.Apply(p),
					Vx: 1e-4, Vy: 1e-4},
			})
		}
	}
	// one gross outlier
	ms[10].Point2.X += 50
	ml := &match.StarMatchList{Matches: ms}
	ml.SetTransfoOrder(1)
	if _, err := ml.RefineTransfo(3); err != nil {
		t.Fatal(err)
	}
	if len(ml.Matches) != 63 {
		t.Fatal("outlier not clipped, kept", len(ml.Matches))
	}
	got := ml.Transfo.Apply(geom.Point{350, 350})
	want := truth.Apply(geom.Point{350, 350})
	if math.Abs(got.X-want.X) > 1e-6 || math.Abs(got.Y-want.Y) > 1e-6 {
		t.Fatal("refined transform off:", got, want)
	}
}

func TestInverseTransfo(t *testing.T) {
	truth := geom.Lin{Dx: 2, Dy: -1, A11: 1.01, A22: .99}
	var ms []match.StarMatch
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			p := geom.Point{float64(i) * 10, float64(j) * 10}
			ms = append(ms, match.StarMatch{
				Point1: geom.FatPoint{Point: p, Vx: 1, Vy: 1},
				Point2: geom.FatPoint{Point: truth.Apply(p),
					Vx: 1, Vy: 1},
			})
		}
	}
	ml := &match.StarMatchList{Matches: ms}
	ml.SetTransfoOrder(1)
	if _, err := ml.FitTransfo(); err != nil {
		t.Fatal(err)
	}
	inv, err := ml.InverseTransfo()
	if err != nil {
		t.Fatal(err)
	}
	p := geom.Point{25, 25}
	r := inv.Apply(ml.Transfo.Apply(p))
	if math.Abs(r.X-p.X) > 1e-8 || math.Abs(r.Y-p.Y) > 1e-8 {
		t.Fatal("inverse round trip:", r)
	}
}

func TestCutTailAndRecovered(t *testing.T) {
	ml := &match.StarMatchList{Matches: []match.StarMatch{
		{Distance: .5}, {Distance: .1}, {Distance: .9}, {Distance: .2},
	}}
	if n := ml.RecoveredNumber(.4); n != 2 {
		t.Fatal("recovered:", n)
	}
	ml.CutTail(2)
	if len(ml.Matches) != 2 || ml.Matches[1].Distance != .2 {
		t.Fatal("cut tail:", ml.Matches)
	}
}
