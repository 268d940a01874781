package routing

import (
	"sort"

	"github.com/upb/llm-router/services/providers"
)

// ScoreFunc rates a provider for a request; higher is tried first
type ScoreFunc func(desc providers.ProviderDescriptor, req *providers.GenerationRequest) float64

// DefaultScore favours providers with more capabilities, then larger request
// budgets: distinct capabilities + requestsPerWindow/1000.
func DefaultScore(desc providers.ProviderDescriptor, _ *providers.GenerationRequest) float64 {
	return float64(distinct(desc.Capabilities)) + float64(desc.RateLimit.RequestsPerWindow)/1000
}

func distinct(tags []string) int {
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		seen[t] = struct{}{}
	}
	return len(seen)
}

// Selector orders registered providers into a candidate list
type Selector struct {
	score ScoreFunc
}

// NewSelector creates a selector; a nil score uses DefaultScore
func NewSelector(score ScoreFunc) *Selector {
	if score == nil {
		score = DefaultScore
	}
	return &Selector{score: score}
}

// Rank returns the providers able to serve req, best first. Ties keep
// registration order. A registered preferred provider goes first regardless
// of its score, but it must still pass the capability filter.
func (s *Selector) Rank(req *providers.GenerationRequest, registry *providers.Registry) []providers.ProviderDescriptor {
	all := registry.List()

	candidates := make([]providers.ProviderDescriptor, 0, len(all))
	for _, desc := range all {
		if hasAll(desc, req.RequiredCapabilities) {
			candidates = append(candidates, desc)
		}
	}

	scores := make(map[string]float64, len(candidates))
	for _, desc := range candidates {
		scores[desc.Name] = s.score(desc, req)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return scores[candidates[i].Name] > scores[candidates[j].Name]
	})

	if req.PreferredProvider == "" {
		return candidates
	}
	for i, desc := range candidates {
		if desc.Name == req.PreferredProvider {
			copy(candidates[1:i+1], candidates[:i])
			candidates[0] = desc
			break
		}
	}
	return candidates
}

func hasAll(desc providers.ProviderDescriptor, capabilities []string) bool {
	for _, c := range capabilities {
		if !desc.HasCapability(c) {
			return false
		}
	}
	return true
}
