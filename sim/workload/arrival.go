package workload

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// ArrivalSampler generates inter-arrival times of jobs.
type ArrivalSampler interface {
	// SampleIAT returns the next inter-arrival time in milliseconds.
	// Always returns a positive value (>= 1).
	SampleIAT(rng *rand.Rand) int64
}

// PoissonSampler generates exponentially-distributed inter-arrival times (CV=1).
type PoissonSampler struct {
	ratePerMs float64 // jobs per millisecond
}

func (s *PoissonSampler) SampleIAT(rng *rand.Rand) int64 {
	iat := int64(rng.ExpFloat64() / s.ratePerMs)
	if iat < 1 {
		return 1
	}
	return iat
}

// ConstantArrivalSampler submits jobs at a fixed period.
type ConstantArrivalSampler struct {
	period int64
}

func (s *ConstantArrivalSampler) SampleIAT(_ *rand.Rand) int64 {
	return max(1, s.period)
}

// GammaSampler generates Gamma-distributed inter-arrival times; a CV above 1
// makes job arrivals bursty.
type GammaSampler struct {
	shape float64 // 1/CV²
	scale float64 // mean·CV², ms
}

func (s *GammaSampler) SampleIAT(rng *rand.Rand) int64 {
	return max(1, int64(gammaRand(rng, s.shape)*s.scale))
}

// gammaRand samples Gamma(shape, 1) with Marsaglia and Tsang's method. Shapes
// below one are boosted by one and scaled back with U^(1/shape).
func gammaRand(rng *rand.Rand, shape float64) float64 {
	boost := 1.0
	if shape < 1 {
		boost = math.Pow(rng.Float64(), 1/shape)
		shape++
	}
	d := shape - 1.0/3
	c := 1 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x || math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v * boost
		}
	}
}

// NewArrivalSampler creates an ArrivalSampler from a spec and rate.
// ratePerMs is the job submission rate in jobs/millisecond.
func NewArrivalSampler(spec ArrivalSpec, ratePerMs float64) ArrivalSampler {
	// Floor avoids division by zero for vanishing rates
	if ratePerMs < 1e-15 {
		ratePerMs = 1e-15
	}
	cv := 1.0
	if spec.CV != nil && *spec.CV > 0 {
		cv = *spec.CV
	}
	mean := 1.0 / ratePerMs
	switch spec.Process {
	case "", "poisson":
		return &PoissonSampler{ratePerMs: ratePerMs}

	case "constant":
		return &ConstantArrivalSampler{period: int64(math.Round(mean))}

	case "gamma":
		// shape = 1/CV², scale = mean * CV²
		shape := 1.0 / (cv * cv)
		if shape < 0.01 {
			logrus.Warnf("Gamma shape %.4f (CV=%.1f) is very small; falling back to Poisson", shape, cv)
			return &PoissonSampler{ratePerMs: ratePerMs}
		}
		return &GammaSampler{shape: shape, scale: mean * cv * cv}

	default:
		panic(fmt.Sprintf("unknown arrival process %q", spec.Process))
	}
}
