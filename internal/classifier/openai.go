package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/sashabaranov/go-openai"

	"github.com/tbourn/brandsafe-backend/internal/domain"
)

// ModerationAPI is the subset of the OpenAI client used here.
// *openai.Client satisfies it.
type ModerationAPI interface {
	Moderations(ctx context.Context, req openai.ModerationRequest) (openai.ModerationResponse, error)
}

// OpenAIClassifier classifies text and URLs with the OpenAI Moderations
// endpoint. Image inputs are rejected with ErrUnsupportedInput.
type OpenAIClassifier struct {
	api   ModerationAPI
	model string
}

// NewOpenAI wraps an existing moderation client. An empty model lets the API
// pick its default.
func NewOpenAI(api ModerationAPI, model string) *OpenAIClassifier {
	return &OpenAIClassifier{api: api, model: model}
}

// NewOpenAIFromKey builds a client for apiKey.
func NewOpenAIFromKey(apiKey, model string) (*OpenAIClassifier, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required for the openai classifier")
	}
	return NewOpenAI(openai.NewClient(apiKey), model), nil
}

// Classify implements Classifier.
func (o *OpenAIClassifier) Classify(ctx context.Context, in Input) (Decision, error) {
	if in.Kind != domain.InputText && in.Kind != domain.InputURL {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnsupportedInput, in.Kind)
	}
	resp, err := o.api.Moderations(ctx, openai.ModerationRequest{Input: in.Value, Model: o.model})
	if err != nil {
		return Decision{}, fmt.Errorf("openai moderation: %w", err)
	}
	if len(resp.Results) == 0 {
		return Decision{}, errors.New("openai moderation: empty result set")
	}

	flagged := false
	maxScore := 0.0
	seen := map[string]struct{}{}
	for _, res := range resp.Results {
		flagged = flagged || res.Flagged
		cats, scores, err := decodeResult(res)
		if err != nil {
			return Decision{}, err
		}
		for name, on := range cats {
			if on {
				seen[name] = struct{}{}
			}
		}
		for _, s := range scores {
			if s > maxScore {
				maxScore = s
			}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	flags := make([]string, 0, len(names))
	for _, n := range names {
		flags = append(flags, "Category '"+n+"'")
	}

	d := Decision{Risk: riskFromScore(maxScore), Flags: flags}
	if flagged {
		d.Result = domain.VerdictUnsafe
		d.Confidence = round3(maxScore)
	} else {
		d.Result = domain.VerdictSafe
		d.Confidence = round3(1 - maxScore)
	}
	return d, nil
}

// decodeResult flattens the typed category structs into name-keyed maps using
// their JSON field names.
func decodeResult(r openai.Result) (map[string]bool, map[string]float64, error) {
	cats := map[string]bool{}
	scores := map[string]float64{}
	b, err := json.Marshal(r.Categories)
	if err != nil {
		return nil, nil, fmt.Errorf("decode categories: %w", err)
	}
	if err := json.Unmarshal(b, &cats); err != nil {
		return nil, nil, fmt.Errorf("decode categories: %w", err)
	}
	b, err = json.Marshal(r.CategoryScores)
	if err != nil {
		return nil, nil, fmt.Errorf("decode category scores: %w", err)
	}
	if err := json.Unmarshal(b, &scores); err != nil {
		return nil, nil, fmt.Errorf("decode category scores: %w", err)
	}
	return cats, scores, nil
}

func riskFromScore(s float64) domain.RiskLevel {
	switch {
	case s >= 0.9:
		return domain.RiskCritical
	case s >= 0.7:
		return domain.RiskHigh
	case s >= 0.4:
		return domain.RiskMedium
	}
	return domain.RiskLow
}
