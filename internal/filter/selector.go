package filter

import (
	"context"
	"fmt"

	"github.com/franz/speech-corpus/internal/metadata"
	"github.com/franz/speech-corpus/internal/store"
)

// Selection is the outcome of applying a profile to a dataset
type Selection struct {
	Candidates []store.Candidate
	// Matched counts members satisfying the predicates before quotas
	Matched int
}

// Select applies p to the members of dataset
func Select(ctx context.Context, s *store.Store, dataset string, p *Profile) (*Selection, error) {
	cands, err := s.SelectCandidates(ctx, dataset, p.Predicates())
	if err != nil {
		return nil, err
	}
	sel := &Selection{Candidates: cands, Matched: len(cands)}
	if !p.HasQuota() {
		return sel, nil
	}

	samples, err := s.SpeakerSamples(ctx, dataset)
	if err != nil {
		return nil, err
	}
	var allows []map[int64]bool
	if p.SamplesPerSpeaker != nil {
		allows = append(allows, SamplesPerSpeaker(samples, *p.SamplesPerSpeaker))
	}
	if p.MinutesPerSpeaker != nil {
		allows = append(allows, MinutesPerSpeaker(samples, *p.MinutesPerSpeaker))
	}

	var kept []store.Candidate
	for _, c := range cands {
		ok := true
		for _, allow := range allows {
			if !allow[c.MembershipID] {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, c)
		}
	}
	sel.Candidates = kept
	return sel, nil
}

// Table builds the output metadata table. With includeText every row gets
// the original text, or the ASR text when there is none, and rows with
// neither are left out.
func (sel *Selection) Table(includeText bool) *metadata.Table {
	t := &metadata.Table{HasText: includeText}
	for _, c := range sel.Candidates {
		row := metadata.Row{Path: c.Path, SpeakerID: c.SpeakerID, Hash: c.Fingerprint}
		if includeText {
			switch {
			case c.OriginalText.Valid:
				row.Text = c.OriginalText.String
			case c.ASRText.Valid:
				row.Text = c.ASRText.String
			default:
				continue
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Describe summarizes the active filters of p for logs
func (p *Profile) Describe() string {
	n := len(p.Predicates())
	quotas := 0
	if p.SamplesPerSpeaker != nil {
		quotas++
	}
	if p.MinutesPerSpeaker != nil {
		quotas++
	}
	return fmt.Sprintf("%d predicates, %d quotas", n, quotas)
}
