package workload

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
)

// Sampler draws positive amounts: task work, rate limits, task counts.
type Sampler interface {
	// Sample returns a finite value >= the sampler's floor.
	Sample(rng *rand.Rand) float64
}

// GaussianSampler produces Gaussian values clamped to [min, max].
type GaussianSampler struct {
	mean, stdDev float64
	lo, hi       float64
}

func (s *GaussianSampler) Sample(rng *rand.Rand) float64 {
	if s.lo == s.hi {
		return s.lo
	}
	return math.Min(s.hi, math.Max(s.lo, rng.NormFloat64()*s.stdDev+s.mean))
}

// ExponentialSampler produces exponentially distributed values.
type ExponentialSampler struct {
	mean float64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) float64 {
	return rng.ExpFloat64() * s.mean
}

// UniformSampler produces values uniformly distributed in [min, max).
type UniformSampler struct {
	lo, hi float64
}

func (s *UniformSampler) Sample(rng *rand.Rand) float64 {
	return s.lo + rng.Float64()*(s.hi-s.lo)
}

// ParetoLogNormalSampler is a mixture of Pareto and LogNormal distributions.
// With probability mixWeight, draw from Pareto(alpha, xm); otherwise
// LogNormal(mu, sigma). Heavy-tailed task sizes follow this shape.
type ParetoLogNormalSampler struct {
	alpha     float64 // Pareto shape
	xm        float64 // Pareto scale (minimum)
	mu        float64 // LogNormal mean of ln(X)
	sigma     float64 // LogNormal std dev of ln(X)
	mixWeight float64 // Probability of drawing from Pareto
}

func (s *ParetoLogNormalSampler) Sample(rng *rand.Rand) float64 {
	var val float64
	if rng.Float64() < s.mixWeight {
		// Pareto: X = xm / U^(1/alpha)
		u := rng.Float64()
		if u == 0 {
			u = math.SmallestNonzeroFloat64
		}
		val = s.xm / math.Pow(u, 1.0/s.alpha)
	} else {
		// LogNormal: X = exp(mu + sigma * Z)
		val = math.Exp(s.mu + s.sigma*rng.NormFloat64())
	}
	if math.IsInf(val, 0) || math.IsNaN(val) {
		return s.xm
	}
	return val
}

// EmpiricalSampler samples from a discrete distribution given as
// value → probability, using the inverse CDF.
type EmpiricalSampler struct {
	values []float64 // sorted
	cdf    []float64
}

// NewEmpiricalSampler creates a sampler from a value → probability map.
// Probabilities are normalized; non-positive ones are skipped.
func NewEmpiricalSampler(pdf map[float64]float64) *EmpiricalSampler {
	keys := make([]float64, 0, len(pdf))
	total := 0.0
	for k, p := range pdf {
		if p > 0 {
			keys = append(keys, k)
			total += p
		}
	}
	sort.Float64s(keys)

	s := &EmpiricalSampler{values: keys, cdf: make([]float64, len(keys))}
	cumulative := 0.0
	for i, k := range keys {
		cumulative += pdf[k] / total
		s.cdf[i] = cumulative
	}
	if len(s.cdf) > 0 {
		s.cdf[len(s.cdf)-1] = 1.0
	}
	return s
}

func (s *EmpiricalSampler) Sample(rng *rand.Rand) float64 {
	switch len(s.values) {
	case 0:
		return 0
	case 1:
		return s.values[0]
	}
	idx := sort.SearchFloat64s(s.cdf, rng.Float64())
	return s.values[min(idx, len(s.values)-1)]
}

// ConstantSampler always returns the same value.
type ConstantSampler struct {
	value float64
}

func (s *ConstantSampler) Sample(_ *rand.Rand) float64 {
	return s.value
}

// flooredSampler clamps another sampler from below.
type flooredSampler struct {
	inner Sampler
	floor float64
}

func (s flooredSampler) Sample(rng *rand.Rand) float64 {
	return math.Max(s.floor, s.inner.Sample(rng))
}

// requireParam checks that all required keys exist in a params map.
func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
	}
	return nil
}

// NewSampler creates a Sampler from a DistSpec. Samples never fall below
// floor.
func NewSampler(spec DistSpec, floor float64) (Sampler, error) {
	s, err := newSampler(spec)
	if err != nil {
		return nil, err
	}
	return flooredSampler{inner: s, floor: floor}, nil
}

func newSampler(spec DistSpec) (Sampler, error) {
	p := spec.Params
	switch spec.Type {
	case "gaussian":
		if err := requireParam(p, "mean", "std_dev", "min", "max"); err != nil {
			return nil, err
		}
		if p["min"] > p["max"] {
			return nil, fmt.Errorf("gaussian min %g exceeds max %g", p["min"], p["max"])
		}
		return &GaussianSampler{mean: p["mean"], stdDev: p["std_dev"], lo: p["min"], hi: p["max"]}, nil

	case "exponential":
		if err := requireParam(p, "mean"); err != nil {
			return nil, err
		}
		return &ExponentialSampler{mean: p["mean"]}, nil

	case "uniform":
		if err := requireParam(p, "min", "max"); err != nil {
			return nil, err
		}
		if p["min"] > p["max"] {
			return nil, fmt.Errorf("uniform min %g exceeds max %g", p["min"], p["max"])
		}
		return &UniformSampler{lo: p["min"], hi: p["max"]}, nil

	case "pareto_lognormal":
		if err := requireParam(p, "alpha", "xm", "mu", "sigma", "mix_weight"); err != nil {
			return nil, err
		}
		return &ParetoLogNormalSampler{
			alpha:     p["alpha"],
			xm:        p["xm"],
			mu:        p["mu"],
			sigma:     p["sigma"],
			mixWeight: p["mix_weight"],
		}, nil

	case "constant":
		if err := requireParam(p, "value"); err != nil {
			return nil, err
		}
		return &ConstantSampler{value: p["value"]}, nil

	case "empirical":
		// Inline params are the PDF: value → probability
		pdf := make(map[float64]float64, len(p))
		for k, v := range p {
			value, err := strconv.ParseFloat(k, 64)
			if err != nil {
				return nil, fmt.Errorf("empirical PDF key %q is not a number: %w", k, err)
			}
			pdf[value] = v
		}
		s := NewEmpiricalSampler(pdf)
		if len(s.values) == 0 {
			return nil, fmt.Errorf("empirical distribution has no valid bins")
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown distribution type %q", spec.Type)
	}
}
