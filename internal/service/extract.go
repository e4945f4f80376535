package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mofadvisor/internal/ai"
	"github.com/xxxsen/mofadvisor/internal/model"
	appErr "github.com/xxxsen/mofadvisor/internal/pkg/errors"
)

type recordGenerator interface {
	ExtractRecords(ctx context.Context, text string) (string, error)
}

// Extractor turns one document into validated synthesis records.
type Extractor struct {
	gen           recordGenerator
	validate      *validator.Validate
	maxInputChars int
}

func NewExtractor(gen recordGenerator, maxInputChars int) *Extractor {
	return &Extractor{
		gen:           gen,
		validate:      validator.New(),
		maxInputChars: maxInputChars,
	}
}

// flexNumber accepts a JSON number, null, or a string holding a number.
type flexNumber struct {
	value *float64
}

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		f.value = nil
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		f.value = &num
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected number, got %s", data)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		f.value = nil
		return nil
	}
	num, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("expected number, got %q", s)
	}
	f.value = &num
	return nil
}

type extractedRecord struct {
	MOFName            string     `json:"mof_name"`
	MetalSite          string     `json:"metal_site" validate:"required"`
	MetalSource        string     `json:"metal_source"`
	OrganicLinker      string     `json:"organic_linker" validate:"required"`
	SynthesisMethod    string     `json:"synthesis_method"`
	Solvent            []string   `json:"solvent" validate:"omitempty,dive,required"`
	TemperatureCelsius flexNumber `json:"temperature_celsius"`
	TimeHours          flexNumber `json:"time_hours"`
	Modulator          string     `json:"modulator"`
	Yield              string     `json:"yield"`
	Summary            string     `json:"summary" validate:"required"`
	Notes              string     `json:"notes"`
}

type extractionResult struct {
	Records *[]extractedRecord `json:"records"`
}

// Extract returns zero or more records for doc. Malformed or incomplete model
// output fails the whole document with ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, doc *model.Document) ([]model.SynthesisRecord, error) {
	body := PlainText(doc.ID, doc.Content, e.maxInputChars)
	if body == "" {
		return nil, nil
	}
	raw, err := e.gen.ExtractRecords(ctx, body)
	if err != nil {
		return nil, err
	}
	records, err := e.parse(raw, doc.ID)
	if err != nil {
		logutil.GetLogger(ctx).Warn("extraction output rejected",
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
		return nil, err
	}
	return records, nil
}

func (e *Extractor) parse(raw string, documentID string) ([]model.SynthesisRecord, error) {
	var res extractionResult
	if err := json.Unmarshal([]byte(ai.CleanJSON(raw)), &res); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", appErr.ErrExtraction, err)
	}
	if res.Records == nil {
		return nil, fmt.Errorf("%w: records is required", appErr.ErrExtraction)
	}
	out := make([]model.SynthesisRecord, 0, len(*res.Records))
	for i, item := range *res.Records {
		item.trim()
		if err := e.validate.Struct(item); err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", appErr.ErrExtraction, i, err)
		}
		if err := item.checkRanges(); err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", appErr.ErrExtraction, i, err)
		}
		out = append(out, item.toModel(documentID))
	}
	return out, nil
}

func (r *extractedRecord) trim() {
	for _, s := range []*string{&r.MOFName, &r.MetalSite, &r.MetalSource, &r.OrganicLinker,
		&r.SynthesisMethod, &r.Modulator, &r.Yield, &r.Summary, &r.Notes} {
		*s = strings.TrimSpace(*s)
	}
	solvents := r.Solvent[:0]
	for _, s := range r.Solvent {
		if s = strings.TrimSpace(s); s != "" {
			solvents = append(solvents, s)
		}
	}
	r.Solvent = solvents
}

func (r *extractedRecord) checkRanges() error {
	if t := r.TemperatureCelsius.value; t != nil && (*t < -273.15 || *t > 3000 || math.IsNaN(*t)) {
		return fmt.Errorf("temperature_celsius %v out of range", *t)
	}
	if h := r.TimeHours.value; h != nil && (*h < 0 || math.IsNaN(*h)) {
		return fmt.Errorf("time_hours %v out of range", *h)
	}
	return nil
}

func (r *extractedRecord) toModel(documentID string) model.SynthesisRecord {
	rec := model.SynthesisRecord{
		MOFName:       r.MOFName,
		MetalSite:     NormalizeTerm(r.MetalSite),
		MetalSource:   r.MetalSource,
		OrganicLinker: NormalizeTerm(r.OrganicLinker),
		Conditions: model.SynthesisConditions{
			Method:             r.SynthesisMethod,
			Solvents:           r.Solvent,
			TemperatureCelsius: r.TemperatureCelsius.value,
			DurationHours:      r.TimeHours.value,
			Yield:              r.Yield,
			Modulator:          r.Modulator,
		},
		Summary:          r.Summary,
		Notes:            r.Notes,
		SourceDocumentID: documentID,
	}
	rec.Confidence = confidence(rec)
	return rec
}

// confidence is the share of optional fields the model filled in.
func confidence(r model.SynthesisRecord) float64 {
	c := r.Conditions
	present := []bool{
		r.MOFName != "",
		r.MetalSource != "",
		c.Method != "",
		len(c.Solvents) > 0,
		c.TemperatureCelsius != nil,
		c.DurationHours != nil,
		c.Yield != "",
		c.Modulator != "",
	}
	n := 0
	for _, ok := range present {
		if ok {
			n++
		}
	}
	return math.Round(float64(n)/float64(len(present))*100) / 100
}
