package classifier

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultPolicy is the keyword list shipped with the binary.
//
//go:embed keywords.yaml
var defaultPolicy []byte

// Policy is the keyword list a KeywordClassifier scans for.
type Policy struct {
	Version  int      `yaml:"version"`
	Keywords []string `yaml:"keywords"`
}

// DefaultPolicy parses the embedded keyword list.
func DefaultPolicy() (Policy, error) {
	return ParsePolicy(defaultPolicy)
}

// LoadPolicy reads a YAML keyword list from path. An empty path yields the
// embedded default.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read keyword policy: %w", err)
	}
	return ParsePolicy(b)
}

// ParsePolicy unmarshals and normalizes a keyword list. Keywords are
// normalized like inputs, blanks are dropped and duplicates collapse while
// keeping first-seen order.
func ParsePolicy(b []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Policy{}, fmt.Errorf("unmarshal keyword policy: %w", err)
	}
	seen := make(map[string]struct{}, len(p.Keywords))
	out := make([]string, 0, len(p.Keywords))
	for _, k := range p.Keywords {
		k = Normalize(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	if len(out) == 0 {
		return Policy{}, fmt.Errorf("keyword policy has no keywords")
	}
	p.Keywords = out
	return p, nil
}
