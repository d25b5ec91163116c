package store

import (
	"fmt"
	"io"

	"github.com/dem31/ouinet/pkg/signedhttp"
)

// writeBlockStream re-emits recs[first..last] (inclusive) as chunked,
// block-signed wire output, reading their raw bytes from body in
// order. It reproduces the signing writer's one-chunk-behind
// extension schedule: chunk i carries block i's data plus the
// previous chunk's queued signature, and a terminal zero-length chunk
// carries the last block's signature. ouihash is included whenever
// the block being signed isn't the response's first (global index 0)
// — true by construction for any block a sigs record was written for,
// since CHASH[-1] is only ever implicit for global block 0.
func writeBlockStream(w io.Writer, body io.Reader, recs []sigsRecord, first, last int) error {
	var pendingExt string
	for i := first; i <= last; i++ {
		data, err := readBlockBytes(body, recs, i, last)
		if err != nil {
			return err
		}
		if err := signedhttp.WriteChunk(w, data, pendingExt); err != nil {
			return fmt.Errorf("store: writing chunk %d: %w", i, err)
		}

		var hashExt []byte
		if recs[i].Offset != 0 {
			hashExt = recs[i].CHash
		}
		pendingExt = signedhttp.EncodeChunkExtension(recs[i].Sig, hashExt)
	}
	return signedhttp.WriteChunk(w, nil, pendingExt)
}

func readBlockBytes(body io.Reader, recs []sigsRecord, i, last int) ([]byte, error) {
	if i < last {
		size := recs[i+1].Offset - recs[i].Offset
		data := make([]byte, size)
		if _, err := io.ReadFull(body, data); err != nil {
			return nil, fmt.Errorf("store: reading block %d: %w", i, err)
		}
		return data, nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("store: reading final block %d: %w", i, err)
	}
	return data, nil
}
