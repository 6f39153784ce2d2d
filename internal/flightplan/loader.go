package flightplan

import (
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type planFile struct {
	Plans []Plan `yaml:"plans"`
}

// Load decodes a YAML document holding a "plans" list. Plans without an
// id get a generated one.
func Load(r io.Reader) ([]Plan, error) {
	var f planFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "decode flight plans")
	}
	seen := make(map[string]bool)
	for i := range f.Plans {
		p := &f.Plans[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if seen[p.ID] {
			return nil, errors.Wrapf(ErrInvalidPlan, "duplicate plan id %s", p.ID)
		}
		seen[p.ID] = true
		if err := p.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "plan %s", p.ID)
		}
	}
	return f.Plans, nil
}

// LoadFile reads plans from a YAML file.
func LoadFile(path string) ([]Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessage(err, "open flight plan file")
	}
	defer f.Close()
	return Load(f)
}
