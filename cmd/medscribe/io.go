package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/MrWong99/medscribe/internal/app"
	"github.com/MrWong99/medscribe/pkg/soap"
)

// stdinSource names transcripts read from standard input.
const stdinSource = "stdin"

// readInputs reads one transcript per path. With no paths, or for the path
// "-", the transcript is read from stdin.
func readInputs(paths []string, patientID int64, stdin io.Reader) ([]app.Input, error) {
	if len(paths) == 0 {
		paths = []string{"-"}
	}

	inputs := make([]app.Input, 0, len(paths))
	for _, path := range paths {
		var (
			data   []byte
			err    error
			source = path
		)
		if path == "-" {
			source = stdinSource
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", source, err)
		}
		inputs = append(inputs, app.Input{
			Source:     source,
			PatientID:  patientID,
			Transcript: string(data),
		})
	}
	return inputs, nil
}

// result is the JSON shape of one processed transcript.
type result struct {
	Source             string     `json:"source"`
	RecordID           int64      `json:"record_id,omitempty"`
	CorrectionOutcome  string     `json:"correction_outcome,omitempty"`
	ExtractionOutcome  string     `json:"extraction_outcome,omitempty"`
	CorrectionAttempts int        `json:"correction_attempts"`
	ExtractionAttempts int        `json:"extraction_attempts"`
	Transcript         string     `json:"corrected_transcript"`
	Note               *soap.Note `json:"soap_note,omitempty"`
	StoreError         string     `json:"store_error,omitempty"`
	Error              string     `json:"error,omitempty"`
}

func toResult(out app.Output) result {
	r := result{Source: out.Source, RecordID: out.RecordID}
	if out.StoreErr != nil {
		r.StoreError = out.StoreErr.Error()
	}
	if out.Result == nil {
		r.Error = "not processed"
		return r
	}
	note := out.Result.Note
	r.CorrectionOutcome = string(out.Result.CorrectionOutcome)
	r.ExtractionOutcome = string(out.Result.ExtractionOutcome)
	r.CorrectionAttempts = out.Result.CorrectionAttempts
	r.ExtractionAttempts = out.Result.ExtractionAttempts
	r.Transcript = out.Result.Corrected
	r.Note = &note
	return r
}

// encodeResults writes outputs to w as an indented JSON array.
func encodeResults(w io.Writer, outputs []app.Output) error {
	results := make([]result, len(outputs))
	for i, out := range outputs {
		results[i] = toResult(out)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// writeResults writes outputs to path, or to stdout when path is empty.
func writeResults(path string, outputs []app.Output) error {
	if path == "" {
		return encodeResults(os.Stdout, outputs)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := encodeResults(f, outputs); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
