// Package classifier decides whether submitted content is safe for a brand.
//
// A Classifier maps one input (kind + value) to a Decision: a verdict, a risk
// tier, a confidence in [0,1] and the human-readable flags that explain it.
// Implementations must be safe for concurrent use.
//
//   - KeywordClassifier: policy keyword scan plus a randomized override.
//   - OpenAIClassifier: delegates to the OpenAI Moderations endpoint.
//   - Func: adapts a plain function (tests, custom wiring).
//
// The package does no logging; callers decide what to record.
package classifier

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/tbourn/brandsafe-backend/internal/domain"
)

// ErrUnsupportedInput is returned when a classifier cannot inspect the
// given input kind.
var ErrUnsupportedInput = errors.New("classifier: unsupported input")

// Input is the content handed to a classifier.
type Input struct {
	Kind  domain.InputKind
	Value string
}

// Decision is the outcome of classifying one input.
type Decision struct {
	Result     domain.Verdict
	Risk       domain.RiskLevel
	Confidence float64
	Flags      []string
}

// Classifier inspects content and returns a Decision.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Decision, error)
}

// Func adapts an ordinary function to the Classifier interface.
type Func func(ctx context.Context, in Input) (Decision, error)

// Classify calls f(ctx, in).
func (f Func) Classify(ctx context.Context, in Input) (Decision, error) { return f(ctx, in) }

// Rand is the randomness a classifier draws from. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// NewSeededRand returns a deterministic Rand that is safe for concurrent use.
func NewSeededRand(seed uint64) Rand {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// uniform draws from [lo, hi).
func uniform(r Rand, lo, hi float64) float64 { return lo + r.Float64()*(hi-lo) }

// round3 rounds to three decimals and clamps to [0,1].
func round3(v float64) float64 {
	v = math.Round(v*1000) / 1000
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
