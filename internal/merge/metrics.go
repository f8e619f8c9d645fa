package merge

// Metric keys reported to the orchestrator.
const (
	KeyTotal     = "total_rows"
	KeyInserted  = "inserted_rows"
	KeyUpdated   = "updated_rows"
	KeyDeleted   = "deleted_rows"
	KeyProcessed = "processed_rows"
)

// Metrics are the row counters of one run. Only the Engine mutates them.
type Metrics struct {
	Total     int64
	Processed int64
	Inserted  int64
	Updated   int64
	Deleted   int64
}

// Map returns the counters under their reporting keys.
func (m Metrics) Map() map[string]int64 {
	return map[string]int64{
		KeyTotal:     m.Total,
		KeyInserted:  m.Inserted,
		KeyUpdated:   m.Updated,
		KeyDeleted:   m.Deleted,
		KeyProcessed: m.Processed,
	}
}
