package classifier

import (
	"context"
	"strings"
	"time"

	"github.com/tbourn/brandsafe-backend/internal/domain"
)

// FlagSuspicious is appended when the random override fires.
const FlagSuspicious = "Suspicious patterns detected"

// DefaultOverrideRate is the probability of the "suspicious patterns" override.
const DefaultOverrideRate = 0.10

// ----------------------------------------------------------------------------
// Options

type Option func(*keywordConfig)

type keywordConfig struct {
	rand         Rand
	overrideRate float64
	minLatency   time.Duration
	maxLatency   time.Duration
}

func defaultKeywordConfig() keywordConfig {
	return keywordConfig{
		rand:         globalRand{},
		overrideRate: DefaultOverrideRate,
	}
}

// WithRand sets the randomness source. Nil is ignored.
func WithRand(r Rand) Option {
	return func(c *keywordConfig) {
		if r != nil {
			c.rand = r
		}
	}
}

// WithOverrideRate sets the override probability; values are clamped to [0,1].
// Zero disables the override.
func WithOverrideRate(p float64) Option {
	return func(c *keywordConfig) {
		switch {
		case p < 0:
			p = 0
		case p > 1:
			p = 1
		}
		c.overrideRate = p
	}
}

// WithSimulatedLatency makes every call wait a random duration in [lo, hi].
// A zero hi disables the wait.
func WithSimulatedLatency(lo, hi time.Duration) Option {
	return func(c *keywordConfig) {
		if lo < 0 || hi < lo {
			return
		}
		c.minLatency, c.maxLatency = lo, hi
	}
}

// ----------------------------------------------------------------------------
// Implementation

// KeywordClassifier flags inputs containing any policy keyword and, with a
// small probability, marks otherwise clean inputs as suspicious.
type KeywordClassifier struct {
	cfg      keywordConfig
	keywords []string
}

// NewKeyword builds a KeywordClassifier over the given policy.
func NewKeyword(p Policy, opts ...Option) *KeywordClassifier {
	cfg := defaultKeywordConfig()
	for _, o := range opts {
		o(&cfg)
	}
	kw := make([]string, len(p.Keywords))
	copy(kw, p.Keywords)
	return &KeywordClassifier{cfg: cfg, keywords: kw}
}

// Keywords returns a copy of the normalized keyword list.
func (k *KeywordClassifier) Keywords() []string {
	out := make([]string, len(k.keywords))
	copy(out, k.keywords)
	return out
}

// Classify implements Classifier. Only text and URL values are scanned; image
// inputs fall through to the clean path.
func (k *KeywordClassifier) Classify(ctx context.Context, in Input) (Decision, error) {
	if !in.Kind.Valid() {
		return Decision{}, ErrUnsupportedInput
	}
	if err := k.wait(ctx); err != nil {
		return Decision{}, err
	}

	text := ""
	if in.Kind != domain.InputImage {
		text = Normalize(in.Value)
	}

	flags := make([]string, 0, 2)
	for _, kw := range k.keywords {
		if text != "" && strings.Contains(text, kw) {
			flags = append(flags, "Contains '"+kw+"'")
		}
	}

	r := k.cfg.rand
	var d Decision
	if len(flags) > 0 {
		d = Decision{Result: domain.VerdictUnsafe, Risk: domain.RiskHigh, Confidence: uniform(r, 0.70, 0.95)}
	} else {
		d = Decision{Result: domain.VerdictSafe, Risk: domain.RiskLow, Confidence: uniform(r, 0.85, 0.99)}
	}

	// The override can lower the confidence or risk of an already flagged
	// input; the verdict stays unsafe either way.
	if k.cfg.overrideRate > 0 && r.Float64() < k.cfg.overrideRate {
		d.Result = domain.VerdictUnsafe
		if r.IntN(2) == 0 {
			d.Risk = domain.RiskMedium
		} else {
			d.Risk = domain.RiskHigh
		}
		flags = append(flags, FlagSuspicious)
		d.Confidence = uniform(r, 0.60, 0.80)
	}

	d.Confidence = round3(d.Confidence)
	d.Flags = flags
	return d, nil
}

func (k *KeywordClassifier) wait(ctx context.Context) error {
	if k.cfg.maxLatency <= 0 {
		return ctx.Err()
	}
	span := float64(k.cfg.maxLatency - k.cfg.minLatency)
	d := k.cfg.minLatency + time.Duration(k.cfg.rand.Float64()*span)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
