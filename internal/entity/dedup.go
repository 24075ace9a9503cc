package entity

import (
	"go.uber.org/zap"

	"github.com/sells-group/enrich-engine/internal/model"
)

// Target is one requested cell with the identifier it resolves from.
type Target struct {
	RowID      string
	ColumnKey  string
	Field      string
	Identifier string
	Type       model.EntityType
	SourceData map[string]any
}

// Map holds deduplicated entities keyed by entity ID. Its length is the
// true unit-of-work count for provider calls, which may be far smaller
// than the number of requested cells.
type Map struct {
	Entities          map[string]*model.Entity
	CellCount         int
	DuplicatesAvoided int
}

// Dedup resolves every target and groups them by entity ID. Colliding
// targets merge into the existing entity: target cells append, requested
// fields union.
func Dedup(targets []Target) *Map {
	m := &Map{Entities: make(map[string]*model.Entity)}

	for _, t := range targets {
		res := Resolve(t.Identifier, t.Type)
		cell := model.CellRef{RowID: t.RowID, ColumnKey: t.ColumnKey}

		if existing, ok := m.Entities[res.EntityID]; ok {
			existing.AddTarget(cell, []string{t.Field})
			if existing.SourceData == nil {
				existing.SourceData = t.SourceData
			}
		} else {
			m.Entities[res.EntityID] = &model.Entity{
				ID:                   res.EntityID,
				Type:                 res.Type,
				Identifier:           t.Identifier,
				NormalizedIdentifier: res.NormalizedIdentifier,
				RequestedFields:      []string{t.Field},
				TargetCells:          []model.CellRef{cell},
				SourceData:           t.SourceData,
			}
		}
		m.CellCount++
	}

	m.DuplicatesAvoided = m.CellCount - len(m.Entities)
	if m.DuplicatesAvoided > 0 {
		zap.L().Debug("entity: deduplicated targets",
			zap.Int("cells", m.CellCount),
			zap.Int("entities", len(m.Entities)),
			zap.Int("duplicates_avoided", m.DuplicatesAvoided),
		)
	}
	return m
}

// List returns the entities in the map as a slice.
func (m *Map) List() []*model.Entity {
	out := make([]*model.Entity, 0, len(m.Entities))
	for _, e := range m.Entities {
		out = append(out, e)
	}
	return out
}
