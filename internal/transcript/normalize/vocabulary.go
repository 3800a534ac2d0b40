package normalize

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// vocabularyFile is the on-disk format of an extra vocabulary:
//
//	corrections:
//	  atrial fibrillation: ["a trial fibrillation", "atrial fib relation"]
type vocabularyFile struct {
	Corrections map[string][]string `yaml:"corrections"`
}

// LoadVocabulary reads a YAML vocabulary file.
func LoadVocabulary(path string) (map[string][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("normalize: open vocabulary %q: %w", path, err)
	}
	defer f.Close()
	return ReadVocabulary(f)
}

// ReadVocabulary decodes a YAML vocabulary from r. Unknown keys are rejected.
func ReadVocabulary(r io.Reader) (map[string][]string, error) {
	var vf vocabularyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&vf); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string][]string{}, nil
		}
		return nil, fmt.Errorf("normalize: decode vocabulary: %w", err)
	}
	if vf.Corrections == nil {
		vf.Corrections = map[string][]string{}
	}
	return vf.Corrections, nil
}
