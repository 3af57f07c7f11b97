// Package extract scans fetched page content for business contact
// entities and scores each finding with a source-dependent confidence.
package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/validate"
)

// Result holds the candidates found in one extraction pass, grouped by
// field type, and any per-field failures.
type Result struct {
	Candidates map[model.FieldType][]model.Candidate
	Errors     map[model.FieldType]error
}

// All returns every candidate in field-type order.
func (r Result) All() []model.Candidate {
	var out []model.Candidate
	for _, f := range model.FieldTypes {
		out = append(out, r.Candidates[f]...)
	}
	return out
}

// Count returns the total number of candidates.
func (r Result) Count() int {
	n := 0
	for _, cs := range r.Candidates {
		n += len(cs)
	}
	return n
}

// Confidence is the mean, over field types that produced at least one
// candidate, of that type's mean candidate confidence. It is 0 when
// nothing was found.
func (r Result) Confidence() float64 {
	var total float64
	var types int
	for _, f := range model.FieldTypes {
		cs := r.Candidates[f]
		if len(cs) == 0 {
			continue
		}
		var sum float64
		for _, c := range cs {
			sum += c.Confidence
		}
		total += sum / float64(len(cs))
		types++
	}
	if types == 0 {
		return 0
	}
	return model.ClampConfidence(total / float64(types))
}

// Extractor finds candidate entities in documents. It holds no per-pass
// state and is safe for concurrent use.
type Extractor struct {
	log *zap.Logger
}

// New creates an Extractor. A nil logger falls back to the global logger.
func New(log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.L()
	}
	return &Extractor{log: log.With(zap.String("component", "extractor"))}
}

type fieldFunc func(doc *Document, cfg Config) []model.Candidate

var fieldFuncs = map[model.FieldType]fieldFunc{
	model.FieldBusinessName: businessNames,
	model.FieldEmail:        emails,
	model.FieldPhone:        phones,
	model.FieldAddress:      addresses,
	model.FieldWebsite:      websites,
}

// Extract runs every field extractor over doc. A failure in one field
// type is recorded in Result.Errors and leaves that type empty; the other
// types are still extracted.
func (e *Extractor) Extract(doc *Document, cfg Config) Result {
	cfg = cfg.withDefaults()
	res := Result{
		Candidates: make(map[model.FieldType][]model.Candidate, len(model.FieldTypes)),
		Errors:     make(map[model.FieldType]error),
	}
	if doc == nil {
		return res
	}

	for _, f := range model.FieldTypes {
		cs, err := runField(f, fieldFuncs[f], doc, cfg)
		if err != nil {
			e.log.Warn("extract: field extraction failed",
				zap.String("field", string(f)),
				zap.Error(err),
			)
			res.Errors[f] = err
			continue
		}
		if len(cs) > 0 {
			res.Candidates[f] = cs
		}
	}
	return res
}

func runField(f model.FieldType, fn fieldFunc, doc *Document, cfg Config) (out []model.Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = eris.Errorf("extract: %s: %v", f, r)
		}
	}()
	return fn(doc, cfg), nil
}

func businessNames(doc *Document, cfg Config) []model.Candidate {
	if !doc.HasDOM() {
		return nil
	}
	set := newCandidateSet(foldKey)

	if title := strings.TrimSpace(doc.dom.Find("title").First().Text()); title != "" {
		set.add(model.Candidate{
			Field:      model.FieldBusinessName,
			Raw:        title,
			Confidence: cfg.TitleConfidence,
			Provenance: model.ProvenanceTitle,
		})
	}

	addText := func(sel *goquery.Selection, conf float64, prov string) {
		sel.Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			n := utf8.RuneCountInString(text)
			if n < cfg.NameMinLen || n > cfg.NameMaxLen {
				return
			}
			set.add(model.Candidate{
				Field:      model.FieldBusinessName,
				Raw:        text,
				Confidence: conf,
				Provenance: prov,
			})
		})
	}

	addText(doc.dom.Find("h1"), cfg.HeadingConfidence, model.ProvenanceH1)
	for _, selector := range cfg.NameSelectors {
		addText(doc.dom.Find(selector), cfg.SelectorConfidence, model.SelectorProvenance(selector))
	}

	return set.list
}

func emails(doc *Document, cfg Config) []model.Candidate {
	set := newCandidateSet(foldKey)
	for _, m := range emailRe.FindAllString(doc.Text, -1) {
		if !validate.Email(m) {
			continue
		}
		set.add(model.Candidate{
			Field:      model.FieldEmail,
			Raw:        m,
			Confidence: cfg.EmailConfidence,
			Provenance: model.ProvenanceRegex,
		})
	}
	return set.list
}

func phones(doc *Document, cfg Config) []model.Candidate {
	set := newCandidateSet(exactKey)
	for _, re := range phonePatterns {
		for _, m := range re.FindAllString(doc.Text, -1) {
			m = strings.TrimSpace(m)
			if e164, ok := validate.ParsePhone(m, cfg.Region); ok {
				set.add(model.Candidate{
					Field:      model.FieldPhone,
					Raw:        e164,
					Confidence: cfg.PhoneParsedConfidence,
					Provenance: model.ProvenancePhoneParser,
				})
				continue
			}
			set.add(model.Candidate{
				Field:      model.FieldPhone,
				Raw:        m,
				Confidence: cfg.PhoneRawConfidence,
				Provenance: model.ProvenanceRegex,
			})
		}
	}
	return set.list
}

// addresses runs the strict pattern first, then the looser fallbacks. A
// fallback match inside text already captured by an earlier pattern is
// skipped.
func addresses(doc *Document, cfg Config) []model.Candidate {
	set := newCandidateSet(foldKey)
	var captured [][]int

	within := func(loc []int) bool {
		for _, c := range captured {
			if loc[0] >= c[0] && loc[1] <= c[1] {
				return true
			}
		}
		return false
	}

	for _, loc := range addressStrictRe.FindAllStringIndex(doc.Text, -1) {
		captured = append(captured, loc)
		set.add(model.Candidate{
			Field:      model.FieldAddress,
			Raw:        strings.TrimSpace(doc.Text[loc[0]:loc[1]]),
			Confidence: cfg.AddressStrictConfidence,
			Provenance: model.ProvenanceRegex,
		})
	}

	for _, re := range addressFallbackPatterns {
		var found [][]int
		for _, loc := range re.FindAllStringIndex(doc.Text, -1) {
			if within(loc) {
				continue
			}
			found = append(found, loc)
			set.add(model.Candidate{
				Field:      model.FieldAddress,
				Raw:        strings.TrimSpace(doc.Text[loc[0]:loc[1]]),
				Confidence: cfg.AddressFallbackConfidence,
				Provenance: model.ProvenanceRegexFallback,
			})
		}
		captured = append(captured, found...)
	}
	return set.list
}

func websites(doc *Document, cfg Config) []model.Candidate {
	set := newCandidateSet(exactKey)
	for _, m := range websiteRe.FindAllString(doc.Text, -1) {
		if !validate.URL(m) {
			continue
		}
		set.add(model.Candidate{
			Field:      model.FieldWebsite,
			Raw:        m,
			Confidence: cfg.WebsiteConfidence,
			Provenance: model.ProvenanceRegex,
		})
	}
	return set.list
}
