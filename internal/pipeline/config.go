package pipeline

import (
	"errors"
	"fmt"
)

// Config holds the model and threshold settings shared by both stages. It is
// passed by value at construction and never changes afterwards.
type Config struct {
	// MaxAttempts bounds the model calls per stage. Must be >= 1.
	MaxAttempts int

	// Temperature is the sampling temperature sent with every call. Zero
	// requests deterministic decoding.
	Temperature float64

	// MaxOutputTokens caps each model response.
	MaxOutputTokens int

	// MinSectionWords is the word count below which a note section is
	// reported as short. Short sections are logged, never repaired.
	MinSectionWords int

	// MaxSectionWords is the word count above which a note section is
	// reported as unusually long.
	MaxSectionWords int
}

// DefaultConfig returns the settings used when no configuration is supplied.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     2,
		Temperature:     0,
		MaxOutputTokens: 4096,
		MinSectionWords: 5,
		MaxSectionWords: 500,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("pipeline: max_attempts must be >= 1, got %d", c.MaxAttempts))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("pipeline: temperature must be in [0, 2], got %g", c.Temperature))
	}
	if c.MaxOutputTokens <= 0 {
		errs = append(errs, fmt.Errorf("pipeline: max_output_tokens must be > 0, got %d", c.MaxOutputTokens))
	}
	if c.MinSectionWords < 0 {
		errs = append(errs, fmt.Errorf("pipeline: min_section_words must be >= 0, got %d", c.MinSectionWords))
	}
	if c.MaxSectionWords < c.MinSectionWords {
		errs = append(errs, fmt.Errorf("pipeline: max_section_words (%d) must be >= min_section_words (%d)", c.MaxSectionWords, c.MinSectionWords))
	}
	return errors.Join(errs...)
}
