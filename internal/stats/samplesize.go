// Package stats provides experiment-planning math: the per-variant sample
// size required to detect a relative effect with a two-proportion z-test.
// It plans experiments; it does not analyze observed results.
package stats

import (
	"fmt"
	"math"
)

// zScores holds exact two-tailed critical values for common confidence
// levels, keyed by the upper-tail probability p in Φ⁻¹(p).
var zScores = map[float64]float64{
	0.800: 0.8416,
	0.900: 1.2816,
	0.950: 1.6449,
	0.975: 1.9600,
	0.990: 2.3263,
	0.995: 2.5758,
}

// RequiredSampleSize returns the per-variant sample size needed to detect
// the given minimum relative effect over the baseline conversion rate,
// using the standard two-proportion z-test formula with two-tailed alpha.
//
// baselineRate is the control conversion rate in (0,1); relativeEffect is
// the minimum detectable relative lift (0.1 = 10%). Typical power is 0.8
// and alpha 0.05.
func RequiredSampleSize(baselineRate, relativeEffect, power, alpha float64) (int, error) {
	if baselineRate <= 0 || baselineRate >= 1 {
		return 0, fmt.Errorf("baseline rate %g must be in (0,1)", baselineRate)
	}
	if relativeEffect <= 0 {
		return 0, fmt.Errorf("relative effect %g must be positive", relativeEffect)
	}
	if power <= 0 || power >= 1 {
		return 0, fmt.Errorf("power %g must be in (0,1)", power)
	}
	if alpha <= 0 || alpha >= 1 {
		return 0, fmt.Errorf("alpha %g must be in (0,1)", alpha)
	}

	p1 := baselineRate
	p2 := p1 * (1 + relativeEffect)
	if p2 >= 1 {
		return 0, fmt.Errorf("treatment rate %g (baseline %g with effect %g) exceeds 1", p2, p1, relativeEffect)
	}

	zAlpha := zScore(1 - alpha/2)
	zBeta := zScore(power)

	pBar := (p1 + p2) / 2
	delta := p2 - p1

	n := 2 * pBar * (1 - pBar) * math.Pow(zAlpha+zBeta, 2) / (delta * delta)
	return int(math.Ceil(n)), nil
}

// zScore returns Φ⁻¹(p): exact table values for common confidence levels,
// a numerical approximation otherwise.
func zScore(p float64) float64 {
	key := math.Round(p*1000) / 1000
	if z, ok := zScores[key]; ok {
		return z
	}
	return inverseNormalCDF(p)
}

// inverseNormalCDF approximates Φ⁻¹(p) with Acklam's rational
// approximation, accurate to ~1.15e-9 over (0,1).
func inverseNormalCDF(p float64) float64 {
	a := []float64{-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02,
		1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00}
	b := []float64{-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02,
		6.680131188771972e+01, -1.328068155288572e+01}
	c := []float64{-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00,
		-2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00}
	d := []float64{7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00,
		3.754408661907416e+00}

	const pLow = 0.02425
	const pHigh = 1 - pLow

	switch {
	case p <= 0:
		return math.Inf(-1)
	case p >= 1:
		return math.Inf(1)
	case p < pLow:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	case p > pHigh:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	default:
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	}
}
