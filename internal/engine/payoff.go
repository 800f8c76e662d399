package engine

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/talgya/kala/internal/agents"
)

// ErrInvalidPayoff is returned for out-of-range payoff parameters.
var ErrInvalidPayoff = errors.New("invalid payoff parameters")

// PayoffStrategy computes the payoff pair of a match.
type PayoffStrategy interface {
	CalculatePayoff(a, b *agents.Agent) [2]float64
}

// DifferentialSetter is implemented by payoff strategies whose differentials can
// be changed mid-run.
type DifferentialSetter interface {
	SetDifferentials(efficient, inefficient float64) error
}

// VarianceFunc maps a base payoff entry to the target variance of its noise.
type VarianceFunc func(entry float64) float64

// CooperationConfig holds cooperation game parameters.
type CooperationConfig struct {
	Stochastic              bool
	DifferentialEfficient   float64      // > 0, saver/saver bonus
	DifferentialInefficient float64      // (0, 1), saver penalty against a non-saver
	Mean                    float64      // mu of the log-normal noise
	Variance                VarianceFunc // nil = identity
	Seed                    int64
}

// DefaultCooperationConfig returns the classic 0.15 / 0.1 differentials, deterministic.
func DefaultCooperationConfig() CooperationConfig {
	return CooperationConfig{
		DifferentialEfficient:   0.15,
		DifferentialInefficient: 0.1,
	}
}

type matrixKey [2]string

// CooperationStrategy pays savers more when they meet each other and less when a
// non-saver free-rides on them.
type CooperationStrategy struct {
	cfg    CooperationConfig
	matrix map[matrixKey][2]float64
	sigma  map[matrixKey][2]float64 // 0 for non-saver slots
	rng    *rand.Rand
}

// NewCooperationStrategy validates cfg and builds the payoff matrix.
func NewCooperationStrategy(cfg CooperationConfig) (*CooperationStrategy, error) {
	if cfg.Variance == nil {
		cfg.Variance = func(x float64) float64 { return x }
	}
	s := &CooperationStrategy{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	if err := s.SetDifferentials(cfg.DifferentialEfficient, cfg.DifferentialInefficient); err != nil {
		return nil, err
	}
	return s, nil
}

// SetDifferentials rebuilds the matrix in place for new differentials.
func (s *CooperationStrategy) SetDifferentials(efficient, inefficient float64) error {
	if inefficient <= 0 || inefficient >= 1 {
		return fmt.Errorf("%w: differential_inefficient %v not in (0, 1)", ErrInvalidPayoff, inefficient)
	}
	if efficient <= 0 {
		return fmt.Errorf("%w: differential_efficient %v must be > 0", ErrInvalidPayoff, efficient)
	}

	ss := 1 + efficient
	sn := 1 - inefficient
	matrix := map[matrixKey][2]float64{
		{agents.EncodingSaver, agents.EncodingSaver}:       {ss, ss},
		{agents.EncodingSaver, agents.EncodingNonSaver}:    {sn, 1},
		{agents.EncodingNonSaver, agents.EncodingSaver}:    {1, sn},
		{agents.EncodingNonSaver, agents.EncodingNonSaver}: {1, 1},
	}

	sigma := make(map[matrixKey][2]float64, len(matrix))
	if s.cfg.Stochastic {
		sigSS, err := s.sigmaFor(ss)
		if err != nil {
			return err
		}
		sigSN, err := s.sigmaFor(sn)
		if err != nil {
			return err
		}
		sigma[matrixKey{agents.EncodingSaver, agents.EncodingSaver}] = [2]float64{sigSS, sigSS}
		sigma[matrixKey{agents.EncodingSaver, agents.EncodingNonSaver}] = [2]float64{sigSN, 0}
		sigma[matrixKey{agents.EncodingNonSaver, agents.EncodingSaver}] = [2]float64{0, sigSN}
	}

	s.matrix = matrix
	s.sigma = sigma
	s.cfg.DifferentialEfficient = efficient
	s.cfg.DifferentialInefficient = inefficient
	return nil
}

func (s *CooperationStrategy) sigmaFor(entry float64) (float64, error) {
	v := s.cfg.Variance(entry)
	sigma, err := LognormalSigma(s.cfg.Mean, v)
	if err != nil {
		return 0, fmt.Errorf("entry %v: %w", entry, err)
	}
	return sigma, nil
}

// Differentials returns the current efficient and inefficient differentials.
func (s *CooperationStrategy) Differentials() (efficient, inefficient float64) {
	return s.cfg.DifferentialEfficient, s.cfg.DifferentialInefficient
}

// Stochastic reports whether saver payoffs carry log-normal noise.
func (s *CooperationStrategy) Stochastic() bool { return s.cfg.Stochastic }

// Entry returns the base matrix entry for a pair of saver values.
func (s *CooperationStrategy) Entry(aSaver, bSaver bool) [2]float64 {
	return s.matrix[matrixKey{agents.SaverEncoding(aSaver), agents.SaverEncoding(bSaver)}]
}

// CalculatePayoff returns the payoffs of a and b. In stochastic mode each saver's
// entry is scaled by its own log-normal draw. Each agent's minimum specialization is
// then added to its own payoff.
func (s *CooperationStrategy) CalculatePayoff(a, b *agents.Agent) [2]float64 {
	key := matrixKey{agents.SaverEncoding(a.IsSaver()), agents.SaverEncoding(b.IsSaver())}
	payoffs := s.matrix[key]

	if s.cfg.Stochastic {
		sig := s.sigma[key]
		for i := range payoffs {
			if sig[i] > 0 {
				payoffs[i] *= math.Exp(s.cfg.Mean + sig[i]*s.rng.NormFloat64())
			}
		}
	}

	payoffs[0] += a.Traits().MinSpecialization
	payoffs[1] += b.Traits().MinSpecialization
	return payoffs
}

// String returns a summary of the strategy.
func (s *CooperationStrategy) String() string {
	return fmt.Sprintf("CooperationStrategy(stochastic=%t, efficient=%v, inefficient=%v)",
		s.cfg.Stochastic, s.cfg.DifferentialEfficient, s.cfg.DifferentialInefficient)
}

// LognormalSigma returns the sigma of a log-normal with location mean whose variance
// is variance, inverting var = exp(2mu+sigma^2)(exp(sigma^2)-1).
func LognormalSigma(mean, variance float64) (float64, error) {
	if variance <= 0 || math.IsNaN(variance) || math.IsInf(variance, 0) {
		return 0, fmt.Errorf("%w: target variance %v must be positive", ErrInvalidPayoff, variance)
	}
	// With x = exp(sigma^2): x^2 - x - variance*exp(-2mu) = 0.
	x := (1 + math.Sqrt(1+4*variance*math.Exp(-2*mean))) / 2
	return math.Sqrt(math.Log(x)), nil
}

// LognormalVariance is the forward map of LognormalSigma.
func LognormalVariance(mean, sigma float64) float64 {
	s2 := sigma * sigma
	return math.Exp(2*mean+s2) * (math.Exp(s2) - 1)
}
