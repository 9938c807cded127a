// Public domain.

package fit

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/soniakeys/jointfit/star"
)

// MakeResTuple writes one line per valid measurement with its
// astrometric residual diagnostics, in a whitespace separated table
// with a '#' header.  Positions are the current fit state.
func (f *AstrometryFit) MakeResTuple(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# xccd yccd mag flux eflux fflux photfactor"+
		" jd color fsindex ra dec chi2 nm chip visit")
	fsIndex := map[*star.FittedStar]int{}
	for i, fs := range f.a.FittedStars {
		fsIndex[fs] = i
	}
	for _, c := range f.a.Images {
		mp := f.m.Mapping(c)
		if mp == nil {
			continue
		}
		for _, ms := range c.CatalogForFit {
			fs := ms.FittedStar
			if !ms.Valid || fs == nil {
				continue
			}
			out := mp.Transform(ms.FatPoint)
			wxx, wyy, wxy, ok := weight2(out)
			if !ok {
				continue
			}
			rx := fs.X - out.X
			ry := fs.Y - out.Y
			chi2 := rx*(wxx*rx+wxy*ry) + ry*(wyy*ry+wxy*rx)
			ra := fs.Sky.RA * 180 / math.Pi
			dec := fs.Sky.Dec * 180 / math.Pi
			fmt.Fprintf(bw,
				"%.4f %.4f %.4f %.6g %.6g %.6g %.6g"+
					" %.6f %.4f %d %.9f %.9f %.4g %d %d %d\n",
				ms.X, ms.Y, ms.Mag, ms.Flux, ms.InstFluxErr(),
				fs.Flux, c.PhotC, c.MJD+2400000.5, fs.Color,
				fsIndex[fs], ra, dec, chi2, fs.MeasCount,
				c.Ccd, c.Visit)
		}
	}
	return bw.Flush()
}

// MakeResTuple writes one line per valid measurement with its flux
// residual diagnostics, in a whitespace separated table with a '#'
// header.  Fluxes are the current fit state.
func (f *PhotometryFit) MakeResTuple(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# xccd yccd mag flux eflux fflux photfactor"+
		" jd color fsindex ra dec res chi2 nm chip visit")
	fsIndex := map[*star.FittedStar]int{}
	for i, fs := range f.a.FittedStars {
		fsIndex[fs] = i
	}
	for _, c := range f.a.Images {
		factor := f.m.PhotomFactor(c)
		for _, ms := range c.CatalogForFit {
			fs := ms.FittedStar
			if !ms.Valid || fs == nil {
				continue
			}
			sigma := factor * ms.InstFluxErr()
			if sigma <= 0 {
				continue
			}
			res := fs.Flux - factor*ms.Flux
			chi2 := res * res / (sigma * sigma)
			ra := fs.Sky.RA * 180 / math.Pi
			dec := fs.Sky.Dec * 180 / math.Pi
			fmt.Fprintf(bw,
				"%.4f %.4f %.4f %.6g %.6g %.6g %.6g"+
					" %.6f %.4f %d %.9f %.9f %.6g %.4g %d %d %d\n",
				ms.X, ms.Y, ms.Mag, ms.Flux, ms.InstFluxErr(),
				fs.Flux, factor, c.MJD+2400000.5, fs.Color,
				fsIndex[fs], ra, dec, res, chi2, fs.MeasCount,
				c.Ccd, c.Visit)
		}
	}
	return bw.Flush()
}
