package memstore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hyperjump/omoide/internal/storage"
)

// ReconcileReport summarizes an offline reconciliation pass.
type ReconcileReport struct {
	Scanned           int `json:"scanned"`
	DroppedMissingRow int `json:"dropped_missing_row"`
	DroppedBeyondEnd  int `json:"dropped_beyond_end"`
}

// Reconcile drops position map entries that cannot be resolved: entries whose
// record id has no metadata row (orphans from failed inserts) and entries
// pointing beyond the end of the index. The repaired map is written back to
// disk. Run this offline; it takes the write lock for the whole pass.
func (s *Store) Reconcile(ctx context.Context) (ReconcileReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report ReconcileReport
	indexSize := s.index.Size()

	for pos, recordID := range s.positions.Entries() {
		report.Scanned++
		if pos >= indexSize {
			s.positions.Delete(pos)
			report.DroppedBeyondEnd++
			s.logger.Warn("dropped position beyond index end",
				zap.Uint64("position", pos), zap.Int64("record_id", recordID))
			continue
		}
		_, err := s.metadata.GetRecord(ctx, recordID)
		if errors.Is(err, storage.ErrNotFound) {
			s.positions.Delete(pos)
			report.DroppedMissingRow++
			s.logger.Warn("dropped orphaned position",
				zap.Uint64("position", pos), zap.Int64("record_id", recordID))
			continue
		}
		if err != nil {
			return report, err
		}
	}

	if report.DroppedMissingRow > 0 || report.DroppedBeyondEnd > 0 {
		if err := s.positions.Save(s.mappingPath); err != nil {
			return report, err
		}
	}
	return report, nil
}
