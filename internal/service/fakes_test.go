package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xxxsen/mofadvisor/internal/model"
)

// pairEmbedder gives every (metal site, linker) pair its own axis, so a record
// and a query for the same pair score 1 and different pairs score 0.
type pairEmbedder struct {
	mu    sync.Mutex
	axes  map[string]int
	calls atomic.Int32
	err   error
	fail  map[string]bool
}

func newPairEmbedder() *pairEmbedder {
	return &pairEmbedder{axes: make(map[string]int), fail: make(map[string]bool)}
}

func (p *pairEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	p.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.err != nil {
		return nil, p.err
	}
	lines := strings.SplitN(text, "\n", 3)
	key := strings.Join(lines[:2], "\n")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[key] {
		return nil, errors.New("embedding backend down")
	}
	axis, ok := p.axes[key]
	if !ok {
		axis = len(p.axes)
		p.axes[key] = axis
	}
	vec := make([]float32, 32)
	vec[axis%32] = 1
	return vec, nil
}

// fakeAdvisor serves judge and advisor roles with canned answers.
type fakeAdvisor struct {
	judgeCalls    atomic.Int32
	groundedCalls atomic.Int32
	fallbackCalls atomic.Int32
	infeasible    map[string]bool
	judgeErr      error
	answer        string
	lastContext   string
}

func newFakeAdvisor() *fakeAdvisor {
	return &fakeAdvisor{infeasible: map[string]bool{}}
}

func (f *fakeAdvisor) JudgeFeasibility(ctx context.Context, metalSite, linker string) (string, error) {
	f.judgeCalls.Add(1)
	if f.judgeErr != nil {
		return "", f.judgeErr
	}
	if f.infeasible[metalSite] {
		return `{"feasible": false, "reason": "not a known element"}`, nil
	}
	return `{"feasible": true}`, nil
}

func (f *fakeAdvisor) SuggestGrounded(ctx context.Context, metalSite, linker, contextBlock string) (string, error) {
	f.groundedCalls.Add(1)
	f.lastContext = contextBlock
	if f.answer != "" {
		return f.answer, nil
	}
	return `{"suggested_protocol": {"procedure_details": "grounded", "temperature_celsius": 120}, "citations": []}`, nil
}

func (f *fakeAdvisor) SuggestFallback(ctx context.Context, metalSite, linker string) (string, error) {
	f.fallbackCalls.Add(1)
	return `{"suggested_protocol": {"procedure_details": "general knowledge"}, "citations": ["should-be-dropped.md"]}`, nil
}

// fakeExtractor returns records keyed by document content.
type fakeExtractor struct {
	mu       sync.Mutex
	calls    map[string]int
	records  map[string][]model.SynthesisRecord
	errs     map[string]error
	inFlight map[string]int
	maxSeen  int
	block    chan struct{}
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		calls:    map[string]int{},
		records:  map[string][]model.SynthesisRecord{},
		errs:     map[string]error{},
		inFlight: map[string]int{},
	}
}

func (f *fakeExtractor) Extract(ctx context.Context, doc *model.Document) ([]model.SynthesisRecord, error) {
	f.mu.Lock()
	f.calls[doc.ID]++
	f.inFlight[doc.ID]++
	if f.inFlight[doc.ID] > f.maxSeen {
		f.maxSeen = f.inFlight[doc.ID]
	}
	block := f.block
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight[doc.ID]--
		f.mu.Unlock()
	}()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[doc.Content]; err != nil {
		return nil, err
	}
	out := make([]model.SynthesisRecord, 0, len(f.records[doc.Content]))
	for _, r := range f.records[doc.Content] {
		r.SourceDocumentID = doc.ID
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeExtractor) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func rec(metal, linker, summary string) model.SynthesisRecord {
	return model.SynthesisRecord{MetalSite: metal, OrganicLinker: linker, Summary: summary}
}
