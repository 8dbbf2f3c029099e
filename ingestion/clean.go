package ingestion

import (
	"log/slog"

	"github.com/poiesic/baler/core"
)

// CleanResult describes what Clean kept and discarded.
type CleanResult struct {
	Records    []*core.RawRecord
	Invalid    int
	Duplicates int
}

// Clean drops records that fail validation, then removes duplicate review
// URLs keeping the last occurrence. Kept records appear in the order of
// their last occurrence in the input.
func Clean(records []*core.RawRecord, logger *slog.Logger) *CleanResult {
	if logger == nil {
		logger = slog.Default()
	}
	result := &CleanResult{}

	valid := make([]*core.RawRecord, 0, len(records))
	for _, record := range records {
		if err := core.ValidateRecord(record); err != nil {
			logger.Warn("dropping invalid record",
				"kind", core.KindRecordSkip,
				"url", urlOf(record),
				"err", err)
			result.Invalid++
			continue
		}
		valid = append(valid, record)
	}

	last := make(map[string]int, len(valid))
	for i, record := range valid {
		last[record.ReviewURL] = i
	}

	result.Records = make([]*core.RawRecord, 0, len(last))
	for i, record := range valid {
		if last[record.ReviewURL] == i {
			result.Records = append(result.Records, record)
		}
	}
	result.Duplicates = len(valid) - len(result.Records)

	return result
}

// Pending returns the records whose URL is not in processed.
func Pending(records []*core.RawRecord, processed map[string]struct{}) []*core.RawRecord {
	pending := make([]*core.RawRecord, 0, len(records))
	for _, record := range records {
		if _, done := processed[record.ReviewURL]; !done {
			pending = append(pending, record)
		}
	}
	return pending
}

func urlOf(record *core.RawRecord) string {
	if record == nil {
		return ""
	}
	return record.ReviewURL
}
