// Public domain.

package fit

import (
	"fmt"
	"math"
	"strings"

	"github.com/soniakeys/jointfit/assoc"
	"github.com/soniakeys/jointfit/jlog"
	"github.com/soniakeys/jointfit/model"
	"github.com/soniakeys/jointfit/star"
)

// AstrometryFit adjusts the distortion model and the fitted star
// positions so that every measurement, transformed to the common
// tangent plane, lands on its star.
type AstrometryFit struct {
	a   *assoc.Associations
	m   model.AstrometryModel
	log jlog.Logger

	fitDistortions bool
	fitPositions   bool
	nTotal         int
}

// NewAstrometryFit pairs an association graph with a distortion model.
func NewAstrometryFit(a *assoc.Associations, m model.AstrometryModel,
	log jlog.Logger) *AstrometryFit {

	if log == nil {
		log = jlog.NullLogger{}
	}
	return &AstrometryFit{a: a, m: m, log: log}
}

// AssignIndices numbers the free parameters: model parameters first,
// then two position parameters per fitted star.  WhatToFit selects the
// groups with "Distortions" and "Positions".  It returns the total
// parameter count.
func (f *AstrometryFit) AssignIndices(whatToFit string) int {
	f.fitDistortions = strings.Contains(whatToFit, "Distortions")
	f.fitPositions = strings.Contains(whatToFit, "Positions")
	i := 0
	if f.fitDistortions {
		i = f.m.AssignIndices(whatToFit, 0)
	}
	for _, fs := range f.a.FittedStars {
		fs.IndexInMatrix = -1
		if f.fitPositions && (fs.MeasCount > 0 || fs.RefStar != nil) {
			fs.IndexInMatrix = i
			i += 2
		}
	}
	f.nTotal = i
	if i == 0 {
		f.log.Errorf("astrometry fit: nothing to fit in %q", whatToFit)
	}
	return i
}

// OffsetParams moves the model and the star positions by delta, laid
// out as the last AssignIndices numbered them.
func (f *AstrometryFit) OffsetParams(delta []float64) {
	if f.fitDistortions {
		f.m.OffsetParams(delta)
	}
	for _, fs := range f.a.FittedStars {
		if ix := fs.IndexInMatrix; ix >= 0 {
			fs.X += delta[ix]
			fs.Y += delta[ix+1]
		}
	}
}

// accumulate walks every residual once, filling acc and optionally
// collecting the terms for outlier clipping.
func (f *AstrometryFit) accumulate(acc *accum, collect bool) []term {
	var terms []term
	for _, c := range f.a.Images {
		mp := f.m.Mapping(c)
		if mp == nil {
			f.log.Warnf("astrometry fit: no mapping for image %s",
				c.Name())
			continue
		}
		var mi []int
		if f.fitDistortions {
			mi = mp.MappingIndices()
		}
		for _, ms := range c.CatalogForFit {
			fs := ms.FittedStar
			if !ms.Valid || fs == nil {
				continue
			}
			out, dpx, dpy := mp.TransformAndDerivatives(ms.FatPoint)
			wxx, wyy, wxy, ok := weight2(out)
			if !ok {
				f.log.Warnf("astrometry fit: degenerate "+
					"errors on %s, measurement skipped",
					c.Name())
				continue
			}
			rx := fs.X - out.X
			ry := fs.Y - out.Y
			n := len(mi)
			ix := make([]int, n, n+2)
			jx := make([]float64, n, n+2)
			jy := make([]float64, n, n+2)
			copy(ix, mi)
			for k := 0; k < n; k++ {
				jx[k] = -dpx[k]
				jy[k] = -dpy[k]
			}
			if fs.IndexInMatrix >= 0 {
				ix = append(ix, fs.IndexInMatrix, fs.IndexInMatrix+1)
				jx = append(jx, 1, 0)
				jy = append(jy, 0, 1)
			}
			acc.add2(ix, jx, jy, wxx, wyy, wxy, rx, ry)
			if collect {
				wrx := wxx*rx + wxy*ry
				wry := wyy*ry + wxy*rx
				terms = append(terms, term{
					chi2: rx*wrx + ry*wry,
					ms:   ms, fs: fs, ix: ix,
				})
			}
		}
	}
	for _, fs := range f.a.FittedStars {
		rs := fs.RefStar
		if rs == nil {
			continue
		}
		wxx, wyy, wxy, ok := weight2(rs.FatPoint)
		if !ok {
			continue
		}
		rx := rs.X - fs.X
		ry := rs.Y - fs.Y
		var ix []int
		var jx, jy []float64
		if fs.IndexInMatrix >= 0 {
			ix = []int{fs.IndexInMatrix, fs.IndexInMatrix + 1}
			jx = []float64{-1, 0}
			jy = []float64{0, -1}
		}
		acc.add2(ix, jx, jy, wxx, wyy, wxy, rx, ry)
		if collect {
			wrx := wxx*rx + wxy*ry
			wry := wyy*ry + wxy*rx
			terms = append(terms, term{
				chi2: rx*wrx + ry*wry,
				fs:   fs, ix: ix,
			})
		}
	}
	return terms
}

// ComputeChi2 returns the chi2 of the current parameters.  The degree
// of freedom count is floored at one; hitting the floor is logged.
func (f *AstrometryFit) ComputeChi2() Chi2 {
	acc := newAccum(f.nTotal)
	f.accumulate(acc, false)
	ndof := 2*acc.nTerms - f.nTotal
	if ndof < 1 {
		f.log.Warnf("astrometry fit: %d terms for %d parameters",
			acc.nTerms, f.nTotal)
		ndof = 1
	}
	return Chi2{Chi2: acc.chi2, Ndof: ndof}
}

// FindOutliers returns the measurements and reference associations
// whose chi2 stands above mean + nSigCut sigma of all contributions.
func (f *AstrometryFit) FindOutliers(nSigCut float64) ([]*star.MeasuredStar, []*star.FittedStar) {
	acc := newAccum(f.nTotal)
	terms := f.accumulate(acc, true)
	return clipOutliers(terms, nSigCut)
}

// RemoveOutliers invalidates the given measurements and drops the
// given reference associations.
func (f *AstrometryFit) RemoveOutliers(meas []*star.MeasuredStar, refs []*star.FittedStar) {
	for _, ms := range meas {
		ms.Valid = false
		ms.FittedStar.MeasCount--
	}
	for _, fs := range refs {
		fs.RefStar = nil
	}
}

// Minimize solves for the parameter groups named in whatToFit,
// clipping outliers at nSigCut sigma between solutions when nSigCut is
// positive.  At most maxIter rounds are run.
func (f *AstrometryFit) Minimize(whatToFit string, nSigCut float64, maxIter int) (Chi2, error) {
	if maxIter < 1 {
		maxIter = 1
	}
	if f.AssignIndices(whatToFit) == 0 {
		return Chi2{}, fmt.Errorf("astrometry fit: nothing to fit "+
			"in %q: %w", whatToFit, model.ErrConfiguration)
	}
	prev := -1.
	for it := 0; it < maxIter; it++ {
		acc := newAccum(f.nTotal)
		f.accumulate(acc, false)
		delta, err := acc.solve(f.nTotal)
		if err != nil {
			return Chi2{}, err
		}
		f.OffsetParams(delta)
		if nSigCut > 0 {
			meas, refs := f.FindOutliers(nSigCut)
			if len(meas)+len(refs) > 0 {
				f.log.Infof("astrometry fit: clipping %d "+
					"measurements, %d references",
					len(meas), len(refs))
				f.RemoveOutliers(meas, refs)
				f.AssignIndices(whatToFit)
				prev = -1
				continue
			}
		}
		cur := f.ComputeChi2().Chi2
		if prev >= 0 && math.Abs(cur-prev) <= 1e-9*(1+cur) {
			break
		}
		prev = cur
	}
	// residual errors from here on propagate through the fitted
	// transforms
	f.m.FreezeErrorTransforms()
	chi2 := f.ComputeChi2()
	f.log.Infof("astrometry fit: %v", chi2)
	return chi2, nil
}
