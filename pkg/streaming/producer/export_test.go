package producer

// Buffered reports whether p still references a buffer.
func Buffered(p *ChunkProducer) bool { return p.buf != nil }
