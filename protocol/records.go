package protocol

// Records is a batch of wire blobs. Batching keeps the write path on
// writev() via net.Buffers instead of concatenating in user space.
type Records [][]byte

func (recs Records) TotalLen() (total int64) {
	for _, r := range recs {
		total += int64(len(r))
	}
	return
}
