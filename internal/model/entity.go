package model

// EntityType classifies what a resolved identifier points at.
type EntityType string

const (
	EntityCompany EntityType = "company"
	EntityPerson  EntityType = "person"
	EntityUnknown EntityType = "unknown"
)

// CellRef addresses a single cell in a table.
type CellRef struct {
	RowID     string `json:"row_id"`
	ColumnKey string `json:"column_key"`
}

// Entity is a deduplicated real-world referent backing one or more cells.
// The ID is a pure function of (Type, NormalizedIdentifier), so any two
// cells resolving to the same normalized identifier collapse into one
// Entity. Entities are transient: they exist for the duration of a job and
// are serialized flat (TargetCells as an array) so a queue transport can
// carry them without in-process identity.
type Entity struct {
	ID                   string         `json:"id"`
	Type                 EntityType     `json:"type"`
	Identifier           string         `json:"identifier"`
	NormalizedIdentifier string         `json:"normalized_identifier"`
	RequestedFields      []string       `json:"requested_fields"`
	TargetCells          []CellRef      `json:"target_cells"`
	SourceData           map[string]any `json:"source_data,omitempty"`
}

// AddTarget appends a target cell and unions the requested fields.
func (e *Entity) AddTarget(cell CellRef, fields []string) {
	e.TargetCells = append(e.TargetCells, cell)
	for _, f := range fields {
		if !containsString(e.RequestedFields, f) {
			e.RequestedFields = append(e.RequestedFields, f)
		}
	}
}

// EnrichedEntityData holds the per-field outcome of enriching one entity.
type EnrichedEntityData struct {
	EntityID string                `json:"entity_id"`
	Fields   map[string]FieldValue `json:"fields"`
}
