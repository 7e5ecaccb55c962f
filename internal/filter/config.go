// Package filter selects a subset of a dataset from stored metrics using
// named, declarative profiles.
package filter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"go.yaml.in/yaml/v3"

	"github.com/franz/speech-corpus/internal/util"
)

// DefaultProfile is used when no profile, or an unknown one, is requested
const DefaultProfile = "default"

// Range bounds a metric. Either end may be open.
type Range struct {
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`
}

// CountQuota bounds the number of samples per speaker
type CountQuota struct {
	Min *int `yaml:"min"`
	Max *int `yaml:"max"`
}

// UnmarshalYAML accepts only integer scalars, so 2.5 is an error rather than 2
func (q *CountQuota) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping with min and/or max", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		var field **int
		switch key.Value {
		case "min":
			field = &q.Min
		case "max":
			field = &q.Max
		default:
			return fmt.Errorf("line %d: field %s not found in samples_per_speaker", key.Line, key.Value)
		}
		if value.Kind == yaml.ScalarNode && value.ShortTag() == "!!null" {
			*field = nil
			continue
		}
		if value.Kind != yaml.ScalarNode || value.ShortTag() != "!!int" {
			return fmt.Errorf("line %d: %s must be a whole number, got %q", value.Line, key.Value, value.Value)
		}
		var n int
		if err := value.Decode(&n); err != nil {
			return fmt.Errorf("line %d: %s: %w", value.Line, key.Value, err)
		}
		*field = &n
	}
	return nil
}

// Profile is one named filter configuration. Unset fields do not filter.
type Profile struct {
	SampleRate *int   `yaml:"sample_rate"`
	Channels   *int   `yaml:"channels"`
	Duration   *Range `yaml:"duration"`
	SNR        *Range `yaml:"SNR"`
	DBFS       *Range `yaml:"dBFS"`
	WER        *Range `yaml:"WER"`
	CER        *Range `yaml:"CER"`

	UseUnknownSpeakers    *bool `yaml:"use_unknown_speakers"`
	OnlyWithOriginalTexts *bool `yaml:"only_with_Original_texts"`
	OnlyWithASRTexts      *bool `yaml:"only_with_ASR_texts"`

	SamplesPerSpeaker *CountQuota `yaml:"samples_per_speaker"`
	// MinutesPerSpeaker bounds are in minutes
	MinutesPerSpeaker *Range `yaml:"minutes_per_speaker"`
}

// HasQuota reports whether a per-speaker quota is configured
func (p *Profile) HasQuota() bool {
	return p.SamplesPerSpeaker != nil || p.MinutesPerSpeaker != nil
}

// Validate checks that every range is ordered and quotas are not negative
func (p *Profile) Validate() error {
	ranges := []struct {
		key string
		r   *Range
	}{
		{"duration", p.Duration},
		{"SNR", p.SNR},
		{"dBFS", p.DBFS},
		{"WER", p.WER},
		{"CER", p.CER},
		{"minutes_per_speaker", p.MinutesPerSpeaker},
	}
	for _, rc := range ranges {
		if rc.r == nil {
			continue
		}
		if rc.r.Min != nil && rc.r.Max != nil && *rc.r.Min > *rc.r.Max {
			return fmt.Errorf("%s: min %g is greater than max %g", rc.key, *rc.r.Min, *rc.r.Max)
		}
	}
	if m := p.MinutesPerSpeaker; m != nil {
		if (m.Min != nil && *m.Min < 0) || (m.Max != nil && *m.Max < 0) {
			return errors.New("minutes_per_speaker: bounds must not be negative")
		}
	}
	if q := p.SamplesPerSpeaker; q != nil {
		if (q.Min != nil && *q.Min < 0) || (q.Max != nil && *q.Max < 0) {
			return errors.New("samples_per_speaker: bounds must not be negative")
		}
		if q.Min != nil && q.Max != nil && *q.Min > *q.Max {
			return fmt.Errorf("samples_per_speaker: min %d is greater than max %d", *q.Min, *q.Max)
		}
	}
	return nil
}

// Profiles maps profile names to configurations
type Profiles map[string]*Profile

// Names returns the profile names in order
func (ps Profiles) Names() []string {
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse decodes a YAML document of named profiles. Unknown keys, malformed
// values and invalid ranges are errors.
func Parse(r io.Reader) (Profiles, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var ps Profiles
	if err := dec.Decode(&ps); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: no filter profiles defined", util.ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidConfig, err)
	}
	for _, name := range ps.Names() {
		if ps[name] == nil {
			ps[name] = &Profile{}
		}
		if err := ps[name].Validate(); err != nil {
			return nil, fmt.Errorf("%w: profile %q: %v", util.ErrInvalidConfig, name, err)
		}
	}
	return ps, nil
}

// LoadFile parses the profiles at path
func LoadFile(path string) (Profiles, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open filter config: %v", util.ErrInvalidConfig, err)
	}
	defer f.Close()
	ps, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ps, nil
}

// Resolve returns the profile called name. An unknown name falls back to
// DefaultProfile with a warning. The returned string is the name used.
func (ps Profiles) Resolve(name string) (*Profile, string, error) {
	if name == "" {
		name = DefaultProfile
	}
	if p, ok := ps[name]; ok {
		return p, name, nil
	}
	if p, ok := ps[DefaultProfile]; ok {
		util.WarnLog("Filter profile %q not found, using %q", name, DefaultProfile)
		return p, DefaultProfile, nil
	}
	return nil, "", fmt.Errorf("%w: profile %q not found and no %q profile defined", util.ErrInvalidConfig, name, DefaultProfile)
}
