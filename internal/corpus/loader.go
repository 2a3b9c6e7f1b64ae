package corpus

import (
	"encoding/json"
	"fmt"
	"os"

	"remedy/internal/logging"
)

// LoadStats reports what a corpus load accepted and rejected.
type LoadStats struct {
	Accepted int
	Rejected int
}

// LoadRecords reads defect records from a JSON file: either a bare array or
// an object with a "records" field. Invalid records are rejected one by one
// with a logged reason; the load only fails when the file itself is
// unreadable or unparseable, or when nothing valid remains.
func LoadRecords(path string) ([]DefectRecord, LoadStats, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("read corpus %s: %w", path, err)
	}

	var records []DefectRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		var wrapped struct {
			Records []DefectRecord `json:"records"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil {
			return nil, LoadStats{}, fmt.Errorf("parse corpus %s: %w", path, err)
		}
		records = wrapped.Records
	}

	var stats LoadStats
	valid := records[:0]
	for i := range records {
		if err := ValidateRecord(&records[i]); err != nil {
			stats.Rejected++
			logging.CorpusWarn("rejecting corpus entry %d: %v", i, err)
			continue
		}
		valid = append(valid, records[i])
	}
	stats.Accepted = len(valid)

	if stats.Accepted == 0 {
		return nil, stats, fmt.Errorf("corpus %s: no valid records (%d rejected)", path, stats.Rejected)
	}
	logging.Corpus("loaded corpus %s: %d accepted, %d rejected", path, stats.Accepted, stats.Rejected)
	return valid, stats, nil
}
