// Public domain.

// Package match pairs star lists across coordinate frames and fits
// transforms between them.
package match

import (
	"math"
	"sort"

	"github.com/soniakeys/jointfit/geom"
)

// Entry is one star offered for matching: a position with errors and
// the object it belongs to.
type Entry struct {
	Pos geom.FatPoint
	Obj interface{}
}

// StarMatch is a pair of positions believed to be the same object.
// S1 and S2 carry the matched objects.
type StarMatch struct {
	Point1, Point2 geom.FatPoint
	S1, S2         interface{}
	Distance       float64
	Chi2           float64
}

// StarMatchList is a set of pairs with a transform fit from side 1 to
// side 2.
type StarMatchList struct {
	Matches []StarMatch
	Transfo geom.FitTransfo
	Chi2    float64
	Ndof    int
}

// SetTransfoOrder installs a polynomial transform of the given
// degree, discarding any previous fit.
func (l *StarMatchList) SetTransfoOrder(degree int) {
	l.Transfo = geom.NewPoly(degree)
}

// FitTransfo adjusts the transform to the current pairs and updates
// the per-pair distances and chi2.
func (l *StarMatchList) FitTransfo() (float64, error) {
	if l.Transfo == nil {
		l.SetTransfoOrder(1)
	}
	from := make([]geom.Point, len(l.Matches))
	to := make([]geom.FatPoint, len(l.Matches))
	for i, m := range l.Matches {
		from[i] = m.Point1.Point
		to[i] = m.Point2
	}
	chi2, err := l.Transfo.Fit(from, to)
	if err != nil {
		return chi2, err
	}
	l.Chi2 = chi2
	l.Ndof = 2*len(l.Matches) - l.Transfo.NPar()
	l.SetDistances()
	return chi2, nil
}

// SetDistances recomputes the distance and chi2 of every pair under
// the current transform.
func (l *StarMatchList) SetDistances() {
	for i := range l.Matches {
		m := &l.Matches[i]
		p := l.Transfo.Apply(m.Point1.Point)
		m.Distance = p.Dist(m.Point2.Point)
		wx, wy := invVar(m.Point2)
		dx := p.X - m.Point2.X
		dy := p.Y - m.Point2.Y
		m.Chi2 = dx*dx*wx + dy*dy*wy
	}
}

func invVar(p geom.FatPoint) (wx, wy float64) {
	wx, wy = 1, 1
	if p.Vx > 0 {
		wx = 1 / p.Vx
	}
	if p.Vy > 0 {
		wy = 1 / p.Vy
	}
	return
}

// RefineTransfo alternates fitting and clipping pairs more than
// nSigmas times the rms residual away, until the list is stable.  It
// returns the final chi2.
func (l *StarMatchList) RefineTransfo(nSigmas float64) (float64, error) {
	chi2 := -1.
	for {
		var err error
		chi2, err = l.FitTransfo()
		if err != nil {
			return chi2, err
		}
		sigma := l.residualSigma()
		cut := nSigmas * sigma
		kept := l.Matches[:0]
		for _, m := range l.Matches {
			if m.Distance <= cut {
				kept = append(kept, m)
			}
		}
		if len(kept) == len(l.Matches) {
			return chi2, nil
		}
		l.Matches = kept
	}
}

func (l *StarMatchList) residualSigma() float64 {
	if len(l.Matches) == 0 {
		return 0
	}
	var s float64
	for _, m := range l.Matches {
		s += m.Distance * m.Distance
	}
	return math.Sqrt(s / float64(len(l.Matches)))
}

// RemoveAmbiguities keeps only the best pair for each object.  Which
// selects the side tested: 1, 2, or 3 for both.
func (l *StarMatchList) RemoveAmbiguities(which int) {
	sort.SliceStable(l.Matches, func(i, j int) bool {
		return l.Matches[i].Distance < l.Matches[j].Distance
	})
	used1 := map[interface{}]bool{}
	used2 := map[interface{}]bool{}
	kept := l.Matches[:0]
	for _, m := range l.Matches {
		if which&1 != 0 && used1[m.S1] {
			continue
		}
		if which&2 != 0 && used2[m.S2] {
			continue
		}
		used1[m.S1] = true
		used2[m.S2] = true
		kept = append(kept, m)
	}
	l.Matches = kept
}

// InverseTransfo fits a transform of the same degree in the opposite
// direction, side 2 to side 1.
func (l *StarMatchList) InverseTransfo() (geom.FitTransfo, error) {
	degree := 1
	if p, ok := l.Transfo.(*geom.Poly); ok {
		degree = p.Degree
	}
	inv := geom.NewPoly(degree)
	from := make([]geom.Point, len(l.Matches))
	to := make([]geom.FatPoint, len(l.Matches))
	for i, m := range l.Matches {
		from[i] = m.Point2.Point
		to[i] = m.Point1
	}
	if _, err := inv.Fit(from, to); err != nil {
		return nil, err
	}
	return inv, nil
}

// ApplyTransfo maps every Point1 through t and refreshes distances.
func (l *StarMatchList) ApplyTransfo(t geom.Transfo) {
	for i := range l.Matches {
		m := &l.Matches[i]
		m.Point1 = t.TransformPosAndErrors(m.Point1)
		m.Distance = m.Point1.Dist(m.Point2.Point)
	}
}

// CutTail sorts by distance and keeps the nKeep closest pairs.
func (l *StarMatchList) CutTail(nKeep int) {
	if nKeep >= len(l.Matches) {
		return
	}
	sort.SliceStable(l.Matches, func(i, j int) bool {
		return l.Matches[i].Distance < l.Matches[j].Distance
	})
	l.Matches = l.Matches[:nKeep]
}

// RecoveredNumber counts pairs closer than minDist.
func (l *StarMatchList) RecoveredNumber(minDist float64) int {
	n := 0
	for _, m := range l.Matches {
		if m.Distance < minDist {
			n++
		}
	}
	return n
}

// Collect pairs each entry of l1, mapped through guess, with its
// nearest entry of l2 within maxDist.  The result keeps l1 order, so
// repeated runs over the same input give the same list.
func Collect(l1, l2 []Entry, guess geom.Transfo, maxDist float64) *StarMatchList {
	f := newFinder(l2, maxDist)
	out := &StarMatchList{}
	for _, e := range l1 {
		p := guess.TransformPosAndErrors(e.Pos)
		j, d := f.nearest(p.Point)
		if j < 0 {
			continue
		}
		out.Matches = append(out.Matches, StarMatch{
			Point1:   e.Pos,
			Point2:   l2[j].Pos,
			S1:       e.Obj,
			S2:       l2[j].Obj,
			Distance: d,
		})
	}
	return out
}

// finder is a uniform cell grid over a point set for nearest neighbor
// queries within a fixed radius.
type finder struct {
	entries []Entry
	cell    float64
	grid    map[[2]int][]int
	radius  float64
}

func newFinder(entries []Entry, radius float64) *finder {
	f := &finder{
		entries: entries,
		cell:    radius,
		grid:    make(map[[2]int][]int),
		radius:  radius,
	}
	if f.cell <= 0 {
		f.cell = 1
	}
	for i, e := range entries {
		k := f.key(e.Pos.Point)
		f.grid[k] = append(f.grid[k], i)
	}
	return f
}

func (f *finder) key(p geom.Point) [2]int {
	return [2]int{
		int(math.Floor(p.X / f.cell)),
		int(math.Floor(p.Y / f.cell)),
	}
}

// nearest returns the index of the closest entry within the radius,
// or -1.  Ties go to the earliest entry.
func (f *finder) nearest(p geom.Point) (int, float64) {
	k := f.key(p)
	best := -1
	bestD := f.radius
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for _, i := range f.grid[[2]int{k[0] + dx, k[1] + dy}] {
				d := p.Dist(f.entries[i].Pos.Point)
				if d < bestD || (d == bestD && best >= 0 && i < best) {
					best = i
					bestD = d
				}
			}
		}
	}
	if best < 0 {
		return -1, 0
	}
	return best, bestD
}
