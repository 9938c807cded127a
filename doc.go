/*
Command jointfit solves distortion models and star positions jointly
across overlapping exposures of the same field, and flux scale factors
across visits.

Contents

Version 1.0

  Program overview
  Command line usage
  Configuring file locations
  File formats
  Algorithm outline

Program overview

Input is a file of 80 column MPC-format observations.  Observations are
grouped into one synthetic image per observing site per night, each
image getting a tangent plane projection about its mean pointing.
Output is a fit summary and, on request, a residual tuple with one line
per measurement.

The MPC observation format is documented at
http://www.minorplanetcenter.net/iau/info/OpticalObs.html.  This is an
ASCII encoded format.  There is no allowance for non-ASCII characters.

Measurements of the same object seen on several images are associated
into fitted stars.  The program then solves, by iterated linearized
least squares, for the polynomial distortion of each image (or for
per-chip and per-visit polynomials with the constrained model) together
with the fitted star positions, and in a second fit for a flux scale
factor per visit together with the fitted star fluxes.  Between
iterations, measurements whose chi2 contribution stands far above the
rest are clipped, at most one per fit parameter per pass.

Sample run:

  jointfit -demo

generates a synthetic two visit field with a known quadratic distortion
and a known flux factor, runs both fits, and reports whether the flux
factor was recovered.  The fitted distortion is not checked.

  jointfit obs.txt

fits observations from a file.  A single dash fits observations from
standard input.

Command line usage

  Usage: jointfit [options] <obsfile>   fit observations in file
         jointfit [options] -           fit observations from stdin
         jointfit -demo [options]      fit a synthetic field, check recovery
         jointfit -h                    display help and quick reference
         jointfit -v                    display version and copyright

  Options:
         -c <config-file>
         -o <obscode-file>
         -t <restuple-file>
         -verbose

Configuring file locations

By default the program looks for jointfit.config and jointfit.obscodes
in the package directory of the jointfit source.  The -c and -o options
name other locations, and -p names another default directory.  If the
obscode file is missing it is downloaded from the Minor Planet Center.

File formats

The config file holds one keyword per line.  Blank lines and lines
starting with # are ignored.

  simple
  constrained
  tangentpoint = <ra> <dec>
  matchcut = <arc seconds>
  minmeasurements = <n>
  degree = <n>
  chipdegree = <n>
  visitdegree = <n>
  whattofit = <tokens>
  nsigcut = <n>
  maxiter = <n>
  obserr = <arc seconds>
  obserr <site> = <arc seconds>

Simple and constrained select the distortion model: one free polynomial
per image, or a composition of a per-chip and a per-visit polynomial.
Whattofit tokens are Distortions, DistortionsChip, DistortionsVisit,
Positions, Model, and Fluxes.  The default is Distortions Model Fluxes.
Fitting Positions together with the simple model leaves the tangent
plane origin free and the solve fails; the constrained model holds its
reference visit fixed and can fit both.

The residual tuple written by -t is a whitespace separated table with a
# header line, one line per valid measurement, holding the pixel
position, magnitude, fluxes, photometric factor, epoch, the fitted star
index and sky position, the measurement chi2, and the image identity.

Algorithm outline

Each image's measurements are projected through its given WCS and the
common tangent point projection into a shared tangent plane.  Each
measurement is matched to the nearest current fitted star within the
match cut, ambiguous matches are removed, and unmatched measurements
found new fitted stars.  Stars seen fewer than minmeasurements times
are dropped from the fit.

The astrometric fit accumulates, for every valid measurement, the
residual between its mapped position and its fitted star, weighted by
the propagated measurement covariance, into normal equations over the
model parameters and the star positions.  The equations are solved by
Cholesky factorization and the parameters moved by the solution,
repeating until the chi2 stops improving or maxiter rounds are run.
With nsigcut > 0, measurements whose chi2 contribution exceeds the mean
by nsigcut standard deviations are invalidated between rounds, no two
clipped measurements sharing a fit parameter in one pass.  The
photometric fit runs the same loop over flux residuals.

-------------
Public domain.
*/
package main
