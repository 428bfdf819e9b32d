package audiobuffer

// Chunk is one capture unit of raw audio bytes. A Chunk is never modified after
// NewChunk returns, so it can be handed between goroutines without copying.
type Chunk struct {
	data []byte
}

// NewChunk copies p into a new Chunk. Producers may reuse p afterwards.
func NewChunk(p []byte) Chunk {
	if len(p) == 0 {
		return Chunk{}
	}
	data := make([]byte, len(p))
	copy(data, p)
	return Chunk{data: data}
}

// Bytes returns the chunk contents. Callers must not modify the returned slice.
func (c Chunk) Bytes() []byte {
	return c.data
}

// Len returns the chunk length in bytes.
func (c Chunk) Len() int {
	return len(c.data)
}
