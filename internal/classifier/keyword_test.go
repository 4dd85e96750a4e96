package classifier

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/brandsafe-backend/internal/domain"
)

// scriptedRand replays fixed Float64 values (cycling) and always picks n-1
// from IntN unless pick is set.
type scriptedRand struct {
	floats []float64
	i      int
	pick   int
}

func (s *scriptedRand) Float64() float64 {
	if len(s.floats) == 0 {
		return 0.5
	}
	v := s.floats[s.i%len(s.floats)]
	s.i++
	return v
}

func (s *scriptedRand) IntN(n int) int {
	if s.pick >= 0 && s.pick < n {
		return s.pick
	}
	return n - 1
}

func newTestKeyword(t *testing.T, opts ...Option) *KeywordClassifier {
	t.Helper()
	p, err := DefaultPolicy()
	if err != nil {
		t.Fatalf("DefaultPolicy: %v", err)
	}
	return NewKeyword(p, opts...)
}

func hasThreeDecimals(v float64) bool {
	return math.Abs(v*1000-math.Round(v*1000)) < 1e-9
}

func TestKeyword_SafeMessage_NoOverride(t *testing.T) {
	c := newTestKeyword(t, WithOverrideRate(0), WithRand(NewSeededRand(1)))
	d, err := c.Classify(context.Background(), Input{Kind: domain.InputText, Value: "This is a safe message about my brand."})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Result != domain.VerdictSafe || d.Risk != domain.RiskLow {
		t.Fatalf("got %+v; want safe/low", d)
	}
	if len(d.Flags) != 0 {
		t.Fatalf("flags = %v; want none", d.Flags)
	}
	if d.Confidence < 0.85 || d.Confidence > 0.99 {
		t.Fatalf("confidence %v outside [0.85,0.99]", d.Confidence)
	}
}

func TestKeyword_FakeScam_Unsafe(t *testing.T) {
	c := newTestKeyword(t, WithOverrideRate(0))
	d, err := c.Classify(context.Background(), Input{Kind: domain.InputText, Value: "This is a fake scam trying to steal your money!"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Result != domain.VerdictUnsafe || d.Risk != domain.RiskHigh {
		t.Fatalf("got %+v; want unsafe/high", d)
	}
	want := map[string]bool{"Contains 'fake'": false, "Contains 'scam'": false}
	for _, f := range d.Flags {
		if _, ok := want[f]; ok {
			want[f] = true
		}
	}
	for f, seen := range want {
		if !seen {
			t.Fatalf("missing flag %q in %v", f, d.Flags)
		}
	}
	if d.Confidence < 0.70 || d.Confidence > 0.95 {
		t.Fatalf("confidence %v outside [0.70,0.95]", d.Confidence)
	}
}

func TestKeyword_EveryKeyword_CaseInsensitiveSubstring(t *testing.T) {
	c := newTestKeyword(t, WithOverrideRate(0), WithRand(NewSeededRand(7)))
	for _, kw := range c.Keywords() {
		for _, kind := range []domain.InputKind{domain.InputText, domain.InputURL} {
			in := Input{Kind: kind, Value: "xx" + strings.ToUpper(kw) + "yy"}
			d, err := c.Classify(context.Background(), in)
			if err != nil {
				t.Fatalf("Classify(%q): %v", in.Value, err)
			}
			if d.Result != domain.VerdictUnsafe || d.Risk != domain.RiskHigh {
				t.Fatalf("%q: got %+v", in.Value, d)
			}
			found := false
			for _, f := range d.Flags {
				if strings.Contains(f, kw) {
					found = true
				}
			}
			if !found {
				t.Fatalf("%q: no flag mentions %q: %v", in.Value, kw, d.Flags)
			}
			if !hasThreeDecimals(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
				t.Fatalf("bad confidence %v", d.Confidence)
			}
		}
	}
}

func TestKeyword_NormalizesFullWidth(t *testing.T) {
	c := newTestKeyword(t, WithOverrideRate(0))
	// Full-width "ＳＣＡＭ" folds to "scam" under NFKC.
	d, err := c.Classify(context.Background(), Input{Kind: domain.InputText, Value: "total ＳＣＡＭ here"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Result != domain.VerdictUnsafe {
		t.Fatalf("expected unsafe after NFKC folding, got %+v", d)
	}
}

func TestKeyword_ImageIgnoresValue(t *testing.T) {
	c := newTestKeyword(t, WithOverrideRate(0))
	d, err := c.Classify(context.Background(), Input{Kind: domain.InputImage, Value: "scam"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Result != domain.VerdictSafe || len(d.Flags) != 0 {
		t.Fatalf("image input should take the clean path, got %+v", d)
	}
}

func TestKeyword_OverrideFlipsSafe(t *testing.T) {
	// draws: base confidence, override roll, override confidence
	r := &scriptedRand{floats: []float64{0.5, 0.01, 0.5}, pick: 0}
	c := newTestKeyword(t, WithRand(r), WithOverrideRate(0.10))
	d, err := c.Classify(context.Background(), Input{Kind: domain.InputText, Value: "lovely brand"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Result != domain.VerdictUnsafe || d.Risk != domain.RiskMedium {
		t.Fatalf("got %+v; want unsafe/medium", d)
	}
	if len(d.Flags) != 1 || d.Flags[0] != FlagSuspicious {
		t.Fatalf("flags = %v", d.Flags)
	}
	if d.Confidence != 0.7 {
		t.Fatalf("confidence = %v; want 0.7", d.Confidence)
	}
}

func TestKeyword_OverrideKeepsUnsafe_MayLowerConfidence(t *testing.T) {
	r := &scriptedRand{floats: []float64{0.99, 0.0, 0.0}, pick: 1}
	c := newTestKeyword(t, WithRand(r))
	d, err := c.Classify(context.Background(), Input{Kind: domain.InputText, Value: "fraud"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Result != domain.VerdictUnsafe || d.Risk != domain.RiskHigh {
		t.Fatalf("got %+v", d)
	}
	if len(d.Flags) != 2 || d.Flags[0] != "Contains 'fraud'" || d.Flags[1] != FlagSuspicious {
		t.Fatalf("flags = %v", d.Flags)
	}
	if d.Confidence != 0.6 {
		t.Fatalf("confidence = %v; want 0.6", d.Confidence)
	}
}

func TestKeyword_OverrideRolledAboveRate_NoOverride(t *testing.T) {
	r := &scriptedRand{floats: []float64{0.0, 0.5}}
	c := newTestKeyword(t, WithRand(r))
	d, err := c.Classify(context.Background(), Input{Kind: domain.InputText, Value: "hello"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Result != domain.VerdictSafe || d.Confidence != 0.85 {
		t.Fatalf("got %+v", d)
	}
}

func TestKeyword_InvalidKind(t *testing.T) {
	c := newTestKeyword(t)
	_, err := c.Classify(context.Background(), Input{Kind: "video", Value: "x"})
	if !errors.Is(err, ErrUnsupportedInput) {
		t.Fatalf("err = %v; want ErrUnsupportedInput", err)
	}
}

func TestKeyword_LatencyHonorsContext(t *testing.T) {
	c := newTestKeyword(t, WithSimulatedLatency(time.Second, 2*time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	_, err := c.Classify(ctx, Input{Kind: domain.InputText, Value: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("cancelled call should return promptly")
	}
}

func TestKeyword_LatencyWaits(t *testing.T) {
	c := newTestKeyword(t, WithOverrideRate(0), WithSimulatedLatency(10*time.Millisecond, 20*time.Millisecond))
	start := time.Now()
	if _, err := c.Classify(context.Background(), Input{Kind: domain.InputText, Value: "hi"}); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected simulated latency")
	}
}

func TestKeyword_ConfidenceAlwaysRounded(t *testing.T) {
	c := newTestKeyword(t, WithRand(NewSeededRand(42)), WithOverrideRate(0.5))
	for i := 0; i < 500; i++ {
		d, err := c.Classify(context.Background(), Input{Kind: domain.InputText, Value: "maybe spam maybe not"})
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if d.Confidence < 0 || d.Confidence > 1 || !hasThreeDecimals(d.Confidence) {
			t.Fatalf("confidence %v not in [0,1] with 3 decimals", d.Confidence)
		}
		if d.Result == domain.VerdictSafe {
			t.Fatalf("flagged input must never be safe")
		}
	}
}

func TestFunc_Adapter(t *testing.T) {
	var c Classifier = Func(func(_ context.Context, in Input) (Decision, error) {
		return Decision{Result: domain.VerdictSafe, Risk: domain.RiskLow, Confidence: 1}, nil
	})
	d, err := c.Classify(context.Background(), Input{Kind: domain.InputText})
	if err != nil || d.Result != domain.VerdictSafe {
		t.Fatalf("unexpected %+v %v", d, err)
	}
}

func TestRound3(t *testing.T) {
	cases := map[float64]float64{0.12345: 0.123, 0.9996: 1, -0.2: 0, 1.7: 1, 0.5: 0.5}
	for in, want := range cases {
		if got := round3(in); got != want {
			t.Fatalf("round3(%v) = %v; want %v", in, got, want)
		}
	}
}
