// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/poiesic/baler/core"
)

// maxLineSize bounds one NDJSON line.
const maxLineSize = 1 << 20

// LoadResult holds the records decoded from an input file.
type LoadResult struct {
	Records []*core.RawRecord
	Skipped int // Lines that could not be decoded
}

// LoadRecords reads NDJSON reviews from path. Lines that do not decode are
// logged with their line number and skipped. A missing file is fatal.
func LoadRecords(path string, logger *slog.Logger) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return nil, core.Errorf(core.KindFatal, "load records", err)
	}
	defer f.Close()

	return ReadRecords(f, logger)
}

// ReadRecords decodes NDJSON reviews from r. Blank lines are ignored.
// Lines longer than maxLineSize are discarded and counted as skipped.
// Only a read error from r is fatal.
func ReadRecords(r io.Reader, logger *slog.Logger) (*LoadResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	result := &LoadResult{}
	reader := bufio.NewReaderSize(r, maxLineSize)

	line := 0
	for {
		data, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			line++
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = reader.ReadSlice('\n')
			}
			logger.Warn("skipping oversized line",
				"kind", core.KindRecordSkip,
				"line", line,
				"max_bytes", maxLineSize)
			result.Skipped++
		} else if len(data) > 0 {
			line++
			result.decode(logger, line, data)
		}

		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return nil, core.Errorf(core.KindFatal, "read records", fmt.Errorf("line %d: %w", line, err))
		}
	}
}

func (r *LoadResult) decode(logger *slog.Logger, line int, data []byte) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return
	}

	var record core.RawRecord
	if err := json.Unmarshal(data, &record); err != nil {
		logger.Warn("skipping malformed line",
			"kind", core.KindRecordSkip,
			"line", line,
			"err", err)
		r.Skipped++
		return
	}
	r.Records = append(r.Records, &record)
}

// WriteRecords writes records to w as NDJSON, one record per line.
func WriteRecords(w io.Writer, records []*core.RawRecord) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return err
		}
	}
	return nil
}
