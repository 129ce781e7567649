package domain

// Chunk is an opaque unit of data produced by a device.
// The delivery core never inspects its contents; bytes are passed to the
// transport exactly as they were enqueued.
type Chunk []byte

// TotalBytes returns the summed length of chunks.
func TotalBytes(chunks []Chunk) int {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	return total
}

// FitBatch trims chunks so that their summed length does not exceed maxBytes.
// The first chunk is always kept, even when it alone is larger than maxBytes,
// so an oversized chunk is still sent on its own. A non-positive maxBytes
// disables trimming.
func FitBatch(chunks []Chunk, maxBytes int) []Chunk {
	if maxBytes <= 0 || len(chunks) <= 1 {
		return chunks
	}
	total := len(chunks[0])
	for i := 1; i < len(chunks); i++ {
		total += len(chunks[i])
		if total > maxBytes {
			return chunks[:i]
		}
	}
	return chunks
}

// CloneChunks returns deep copies of chunks, so callers may reuse their
// buffers after an Add.
func CloneChunks(chunks []Chunk) []Chunk {
	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		cp := make(Chunk, len(c))
		copy(cp, c)
		out[i] = cp
	}
	return out
}
