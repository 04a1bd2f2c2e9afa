// Package testjson turns test runner output into the event stream consumed by
// the reporter.
package testjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/perfgo/flakiness/model"
	"github.com/rs/zerolog"
)

// maxLineSize bounds a single JSON line. Captured output can be large.
const maxLineSize = 16 * 1024 * 1024

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return scanner
}

// DecodeEvents reads newline delimited model.Event objects from r and calls
// fn for each in order. Blank lines are ignored and malformed lines are
// logged and skipped. An error from fn stops decoding and is returned.
func DecodeEvents(logger zerolog.Logger, r io.Reader, fn func(model.Event) error) error {
	scanner := newScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev model.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Warn().Err(err).Int("line", lineNo).Msg("Skipping malformed event")
			continue
		}
		if ev.NodeID == "" {
			logger.Warn().Int("line", lineNo).Msg("Skipping event without node id")
			continue
		}

		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}
	return nil
}
