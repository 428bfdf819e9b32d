package audiobuffer

// Stats holds occupancy and cumulative throughput counters. It is updated in
// the same critical section as the queue, so a copy is always self-consistent.
//
// With no operation in flight:
//
//	BytesWritten - BytesRead - BytesEvicted == CurrentSize
//	ChunksWritten - ChunksRead - ChunksEvicted == queue length
type Stats struct {
	CurrentSize   uint64 `json:"current_size"`
	BytesWritten  uint64 `json:"bytes_written"`
	BytesRead     uint64 `json:"bytes_read"`
	ChunksWritten uint64 `json:"chunks_written"`
	ChunksRead    uint64 `json:"chunks_read"`
	ChunksEvicted uint64 `json:"chunks_evicted"`
	BytesEvicted  uint64 `json:"bytes_evicted"`
	IsPrebuffered bool   `json:"is_prebuffered"`
}

// Snapshot is a point-in-time view of the buffer for status reporting.
type Snapshot struct {
	Stats
	QueueLen          int     `json:"queue_len"`
	MaxChunks         int     `json:"max_chunks"`
	PrebufferChunks   int     `json:"prebuffer_chunks"`
	BudgetBytes       int     `json:"budget_bytes"`
	OccupancyFraction float64 `json:"occupancy_fraction"`
}

func occupancy(currentSize uint64, budget int) float64 {
	if budget <= 0 {
		return 0
	}
	return float64(currentSize) / float64(budget)
}
