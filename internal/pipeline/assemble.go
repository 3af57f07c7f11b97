// Package pipeline turns fetched pages into deduplicated lead records and
// drives jobs through their lifecycle.
package pipeline

import "github.com/sells-group/leadgen-cli/internal/model"

// Assemble groups normalized values from one page into records. Each field
// contributes its single best value (highest confidence, first seen on
// ties). Every distinct email yields its own record sharing the other best
// values; without emails at most one record is emitted, scored with the
// page's pass confidence. Records with no fields set are dropped.
func Assemble(values []model.NormalizedValue, passConfidence float64, jobID, sourceURL string) []model.AssembledRecord {
	best := bestValues(values)

	shared := model.AssembledRecord{
		JobID:        jobID,
		SourceURL:    sourceURL,
		BusinessName: valuePtr(best, model.FieldBusinessName),
		Phone:        valuePtr(best, model.FieldPhone),
		Address:      valuePtr(best, model.FieldAddress),
		Website:      valuePtr(best, model.FieldWebsite),
	}

	emails := distinctEmails(values)
	if len(emails) == 0 {
		shared.Confidence = model.ClampConfidence(passConfidence)
		if shared.IsEmpty() {
			return nil
		}
		return []model.AssembledRecord{shared}
	}

	var sharedSum float64
	var sharedN int
	for _, f := range []model.FieldType{model.FieldBusinessName, model.FieldPhone, model.FieldAddress, model.FieldWebsite} {
		if v, ok := best[f]; ok {
			sharedSum += v.Confidence
			sharedN++
		}
	}

	out := make([]model.AssembledRecord, 0, len(emails))
	for _, e := range emails {
		rec := shared
		email := e.Value
		rec.Email = &email
		rec.Confidence = model.ClampConfidence((e.Confidence + sharedSum) / float64(sharedN+1))
		out = append(out, rec)
	}
	return out
}

// bestValues picks the highest-confidence value per field. Only a strictly
// greater confidence replaces an earlier value.
func bestValues(values []model.NormalizedValue) map[model.FieldType]model.NormalizedValue {
	best := make(map[model.FieldType]model.NormalizedValue, len(model.FieldTypes))
	for _, v := range values {
		if v.Value == "" {
			continue
		}
		cur, ok := best[v.Field]
		if !ok || v.Confidence > cur.Confidence {
			best[v.Field] = v
		}
	}
	return best
}

// distinctEmails returns each email value once, in first-seen order,
// carrying the highest confidence it was found with.
func distinctEmails(values []model.NormalizedValue) []model.NormalizedValue {
	var out []model.NormalizedValue
	index := make(map[string]int)
	for _, v := range values {
		if v.Field != model.FieldEmail || v.Value == "" {
			continue
		}
		if i, ok := index[v.Value]; ok {
			if v.Confidence > out[i].Confidence {
				out[i].Confidence = v.Confidence
			}
			continue
		}
		index[v.Value] = len(out)
		out = append(out, v)
	}
	return out
}

func valuePtr(best map[model.FieldType]model.NormalizedValue, f model.FieldType) *string {
	v, ok := best[f]
	if !ok {
		return nil
	}
	s := v.Value
	return &s
}
