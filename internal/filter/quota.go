package filter

import "github.com/franz/speech-corpus/internal/store"

// groupBySpeaker splits samples per speaker, keeping the order of samples
// within each speaker and of speakers by first appearance
func groupBySpeaker(samples []store.SpeakerSample) [][]store.SpeakerSample {
	index := map[int]int{}
	var groups [][]store.SpeakerSample
	for _, s := range samples {
		i, ok := index[s.SpeakerID]
		if !ok {
			i = len(groups)
			index[s.SpeakerID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], s)
	}
	return groups
}

// SamplesPerSpeaker returns the memberships allowed by a sample count
// quota. A speaker with more than max samples keeps its first max; a
// speaker with fewer than min is dropped.
func SamplesPerSpeaker(samples []store.SpeakerSample, q CountQuota) map[int64]bool {
	allow := map[int64]bool{}
	for _, group := range groupBySpeaker(samples) {
		n := len(group)
		switch {
		case q.Max != nil && n > *q.Max:
			group = group[:*q.Max]
		case q.Min != nil && n < *q.Min:
			continue
		}
		for _, s := range group {
			allow[s.MembershipID] = true
		}
	}
	return allow
}

// MinutesPerSpeaker returns the memberships allowed by a duration quota in
// minutes. A speaker over max keeps samples up to and including the one
// that crosses max; a speaker under min is dropped.
func MinutesPerSpeaker(samples []store.SpeakerSample, q Range) map[int64]bool {
	allow := map[int64]bool{}
	for _, group := range groupBySpeaker(samples) {
		var total float64
		for _, s := range group {
			total += s.DurationSeconds
		}

		switch {
		case q.Max != nil && total > *q.Max*60:
			limit := *q.Max * 60
			var running float64
			for i, s := range group {
				running += s.DurationSeconds
				if running > limit {
					group = group[:i+1]
					break
				}
			}
		case q.Min != nil && total < *q.Min*60:
			continue
		}
		for _, s := range group {
			allow[s.MembershipID] = true
		}
	}
	return allow
}
