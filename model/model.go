// Public domain.

// Package model holds the distortion and photometric models fit by the
// fitters: how many free parameters there are, which mapping moves
// which image, and how fitted transforms turn back into WCS solutions.
package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/soniakeys/jointfit/geom"
	"github.com/soniakeys/jointfit/mapping"
	"github.com/soniakeys/jointfit/star"
)

// ErrConfiguration reports a model asked to do something inconsistent
// with the way it was built.
var ErrConfiguration = errors.New("model configuration error")

// ErrDOF reports a fit with fewer measurements than parameters.
var ErrDOF = errors.New("not enough degrees of freedom")

func confErrf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrConfiguration)...)
}

func dofErrf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrDOF)...)
}

// ProjectionHandler chooses the projection used to compare images.  The
// common tangent plane handler projects every image about one shared
// point.
type ProjectionHandler interface {
	Sky2TP(c *star.CcdImage) *geom.TanRaDec2Pix
}

// CommonTangentPlane projects every image about Point, in degrees.
type CommonTangentPlane struct {
	Point geom.Point
}

func (h CommonTangentPlane) Sky2TP(c *star.CcdImage) *geom.TanRaDec2Pix {
	return &geom.TanRaDec2Pix{TangentPoint: h.Point}
}

// AstrometryModel is the distortion model side of an astrometric fit.
// It owns the mappings taking pixels to the common tangent plane and
// the bookkeeping of their parameters in the grand vector.
type AstrometryModel interface {
	// Mapping returns the mapping moving image c, or nil for an
	// image the model does not know.
	Mapping(c *star.CcdImage) mapping.Mapping

	// AssignIndices gives every free parameter its offset in the
	// grand parameter vector, starting at firstIndex, and returns
	// the index past the last one.  WhatToFit selects which
	// parameter groups move; requesting none of the model's groups
	// logs the configuration error and returns zero.
	AssignIndices(whatToFit string, firstIndex int) int

	// OffsetParams moves the parameters by their slice of delta.
	OffsetParams(delta []float64)

	// FreezeErrorTransforms fixes the transforms used for error
	// propagation at the current parameters.
	FreezeErrorTransforms()

	// TotalParameters returns the parameter count of the last
	// AssignIndices call.
	TotalParameters() int

	// ProduceSipWcs expresses the fitted mapping of c as a TAN-SIP
	// WCS about the image projection point.
	ProduceSipWcs(c *star.CcdImage) (*geom.TanPix2RaDec, error)
}

// fitsDistortions reports whether whatToFit requests distortion
// parameters at all.
func fitsDistortions(whatToFit string) bool {
	return strings.Contains(whatToFit, "Distortions")
}

// sipWcs converts a fitted pixel to tangent plane transform into a
// TAN-SIP WCS.  The affine part is the linear expansion of pix2TP at
// the frame center; the SIP polynomial is what remains once that
// expansion is divided out, so it stays close to identity.
func sipWcs(pix2TP geom.Transfo, frame geom.Frame,
	tangentPoint geom.Point, degree int) (*geom.TanPix2RaDec, error) {

	cd := geom.LinearApproximation(pix2TP, frame.Center(), 1)
	cdInv, err := cd.Invert()
	if err != nil {
		return nil, fmt.Errorf("sip wcs: %w", err)
	}
	var sip *geom.Poly
	if p, ok := geom.Compose(cdInv, pix2TP).(*geom.Poly); ok {
		sip = p
	} else {
		sip, err = geom.PolyApprox(
			geom.Compose(cdInv, pix2TP), frame, degree)
		if err != nil {
			return nil, fmt.Errorf("sip wcs: %w", err)
		}
	}
	return &geom.TanPix2RaDec{
		Lin:          cd,
		Sip:          sip,
		TangentPoint: tangentPoint,
	}, nil
}
