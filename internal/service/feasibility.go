package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mofadvisor/internal/ai"
)

type feasibilityJudge interface {
	JudgeFeasibility(ctx context.Context, metalSite, linker string) (string, error)
}

type Verdict struct {
	Feasible bool   `json:"feasible"`
	Reason   string `json:"reason,omitempty"`
}

// FeasibilityGate is a cost filter in front of retrieval. Anything other than
// an explicit "feasible": false from the judge counts as feasible.
type FeasibilityGate struct {
	judge feasibilityJudge
	cache *expirable.LRU[string, Verdict]
}

func NewFeasibilityGate(judge feasibilityJudge, cacheSize int, ttl time.Duration) *FeasibilityGate {
	g := &FeasibilityGate{judge: judge}
	if cacheSize > 0 && ttl > 0 {
		g.cache = expirable.NewLRU[string, Verdict](cacheSize, nil, ttl)
	}
	return g
}

// Check expects normalized inputs.
func (g *FeasibilityGate) Check(ctx context.Context, metalSite, linker string) Verdict {
	key := metalSite + "\x00" + linker
	if g.cache != nil {
		if v, ok := g.cache.Get(key); ok {
			return v
		}
	}
	logger := logutil.GetLogger(ctx).With(zap.String("metal_site", metalSite), zap.String("organic_linker", linker))
	raw, err := g.judge.JudgeFeasibility(ctx, metalSite, linker)
	if err != nil {
		logger.Warn("feasibility check failed, treating as feasible", zap.Error(err))
		return Verdict{Feasible: true}
	}
	v, ok := parseVerdict(raw)
	if !ok {
		logger.Warn("malformed feasibility answer, treating as feasible", zap.String("answer", raw))
		return Verdict{Feasible: true}
	}
	if g.cache != nil {
		g.cache.Add(key, v)
	}
	logger.Debug("feasibility verdict", zap.Bool("feasible", v.Feasible), zap.String("reason", v.Reason))
	return v
}

func parseVerdict(raw string) (Verdict, bool) {
	var out struct {
		Feasible *bool  `json:"feasible"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(ai.CleanJSON(raw)), &out); err != nil || out.Feasible == nil {
		return Verdict{}, false
	}
	return Verdict{Feasible: *out.Feasible, Reason: out.Reason}, true
}
