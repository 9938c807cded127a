// Public domain.

// Package fit holds the least squares fitters.  Both fitters build the
// normal equations of their residuals, solve by Cholesky
// factorization, move the parameters, and clip outliers until the
// remaining measurements are consistent.
package fit

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/soniakeys/jointfit/geom"
	"github.com/soniakeys/jointfit/star"
)

// Chi2 is the weighted squared residual sum of a fit state.
type Chi2 struct {
	Chi2 float64
	Ndof int
}

// Reduced returns chi2 per degree of freedom.
func (c Chi2) Reduced() float64 {
	if c.Ndof < 1 {
		return c.Chi2
	}
	return c.Chi2 / float64(c.Ndof)
}

func (c Chi2) String() string {
	return fmt.Sprintf("chi2 %.6g / %d dof", c.Chi2, c.Ndof)
}

// accum builds normal equations term by term: the hessian JᵀWJ, the
// gradient JᵀW·res, and the chi2 of the current residuals.
type accum struct {
	h      *mat.SymDense
	g      []float64
	chi2   float64
	nTerms int
}

func newAccum(nPar int) *accum {
	if nPar < 1 {
		nPar = 1
	}
	return &accum{
		h: mat.NewSymDense(nPar, nil),
		g: make([]float64, nPar),
	}
}

// add2 accumulates a two dimensional residual (rx, ry) with inverse
// covariance weight (wxx, wyy, wxy).  jx and jy are the derivatives of
// rx and ry with respect to the parameters in ix.
func (a *accum) add2(ix []int, jx, jy []float64, wxx, wyy, wxy, rx, ry float64) {
	wrx := wxx*rx + wxy*ry
	wry := wyy*ry + wxy*rx
	a.chi2 += rx*wrx + ry*wry
	a.nTerms++
	for p, ip := range ix {
		a.g[ip] += jx[p]*wrx + jy[p]*wry
		for q := p; q < len(ix); q++ {
			iq := ix[q]
			v := jx[p]*wxx*jx[q] + jy[p]*wyy*jy[q] +
				wxy*(jx[p]*jy[q]+jy[p]*jx[q])
			a.h.SetSym(ip, iq, a.h.At(ip, iq)+v)
		}
	}
}

// add1 accumulates a scalar residual r with weight w and derivatives j
// over the parameters in ix.
func (a *accum) add1(ix []int, j []float64, w, r float64) {
	a.chi2 += w * r * r
	a.nTerms++
	for p, ip := range ix {
		a.g[ip] += j[p] * w * r
		for q := p; q < len(ix); q++ {
			iq := ix[q]
			a.h.SetSym(ip, iq, a.h.At(ip, iq)+j[p]*w*j[q])
		}
	}
}

// solve returns the Gauss-Newton step minimizing the linearized chi2.
// An error wrapping geom.ErrNumeric reports a hessian that does not
// factor.
func (a *accum) solve(nPar int) ([]float64, error) {
	var ch mat.Cholesky
	if !ch.Factorize(a.h) {
		return nil, fmt.Errorf(
			"fit: normal equations do not factor: %w", geom.ErrNumeric)
	}
	b := mat.NewVecDense(nPar, nil)
	for i := 0; i < nPar; i++ {
		b.SetVec(i, -a.g[i])
	}
	var d mat.VecDense
	if err := ch.SolveVecTo(&d, b); err != nil {
		return nil, fmt.Errorf("fit: %v: %w", err, geom.ErrNumeric)
	}
	delta := make([]float64, nPar)
	for i := 0; i < nPar; i++ {
		delta[i] = d.AtVec(i)
	}
	return delta, nil
}

// weight2 inverts the covariance of p.  Degenerate covariances report
// not ok and the measurement should be skipped.
func weight2(p geom.FatPoint) (wxx, wyy, wxy float64, ok bool) {
	det := p.Vx*p.Vy - p.Vxy*p.Vxy
	if det <= 0 || p.Vx <= 0 || p.Vy <= 0 {
		return 0, 0, 0, false
	}
	return p.Vy / det, p.Vx / det, -p.Vxy / det, true
}

// term is one chi2 contribution considered for clipping: a measurement
// or a reference association.
type term struct {
	chi2 float64
	ms   *star.MeasuredStar // nil for a reference term
	fs   *star.FittedStar
	ix   []int
}

// clipOutliers applies the cut mean + nSigCut sigma to the term chi2
// distribution, discarding from the worst down but never two terms
// touching the same parameter in one pass, so one bad measurement
// cannot drag its neighbors out with it.
func clipOutliers(terms []term, nSigCut float64) (meas []*star.MeasuredStar, refs []*star.FittedStar) {
	if len(terms) == 0 {
		return nil, nil
	}
	var mean, m2 float64
	for _, t := range terms {
		mean += t.chi2
		m2 += t.chi2 * t.chi2
	}
	mean /= float64(len(terms))
	sigma := math.Sqrt(m2/float64(len(terms)) - mean*mean)
	cut := mean + nSigCut*sigma
	sort.SliceStable(terms, func(i, j int) bool {
		return terms[i].chi2 > terms[j].chi2
	})
	affected := map[int]bool{}
	for _, t := range terms {
		if t.chi2 <= cut {
			break
		}
		touched := false
		for _, i := range t.ix {
			if affected[i] {
				touched = true
				break
			}
		}
		if touched {
			continue
		}
		for _, i := range t.ix {
			affected[i] = true
		}
		if t.ms != nil {
			meas = append(meas, t.ms)
		} else {
			refs = append(refs, t.fs)
		}
	}
	return meas, refs
}
