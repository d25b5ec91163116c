package store

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dem31/ouinet/pkg/signedhttp"
)

// Writer appends verified blocks to a new entry's body and sigs
// files. Each WriteBlock call fsyncs the body before appending the sigs
// record, so a reader opening the entry concurrently never observes a
// sigs record whose body bytes haven't landed (body bytes can land
// before their record, which is the commit point); per spec.md
// §4.6 and §8 scenario 2, an entry with fewer blocks than its head
// promises is a legitimate, tolerated state, not corruption.
type Writer struct {
	dir    string
	body   *os.File
	sigs   *os.File
	offset uint64
	log    *slog.Logger
}

// WriteBlock appends one verified block's raw bytes and its signature
// record (sig, its data hash, and the previous block's chain hash) to
// the entry, in body-then-sigs order so the sigs record is the
// "commit point" for the block it describes.
func (w *Writer) WriteBlock(sig, dhash, chash []byte, data []byte) error {
	if _, err := w.body.Write(data); err != nil {
		return fmt.Errorf("store: writing body: %w", err)
	}
	if err := w.body.Sync(); err != nil {
		return fmt.Errorf("store: fsyncing body: %w", err)
	}

	rec := formatSigsRecord(sigsRecord{Offset: w.offset, Sig: sig, DHash: dhash, CHash: chash})
	if _, err := io.WriteString(w.sigs, rec); err != nil {
		return fmt.Errorf("store: writing sigs: %w", err)
	}
	if err := w.sigs.Sync(); err != nil {
		return fmt.Errorf("store: fsyncing sigs: %w", err)
	}

	w.offset += uint64(len(data))
	return nil
}

// Complete merges finalHead's trailer fields (X-Ouinet-Data-Size,
// Digest, X-Ouinet-Sig1) into the stored head via the same atomic
// write-temp-fsync-rename sequence Create used, pruning any redundant
// signature headers along the way. Once Complete returns, readers see
// a fully signed entry.
func (w *Writer) Complete(finalHead signedhttp.Head) error {
	pruneRedundantSignatures(&finalHead)
	return atomicWriteFile(filepath.Join(w.dir, headFile), encodeHead(finalHead))
}

// Close releases the writer's open file handles without altering the
// entry; call it once Complete has returned, or instead of Complete
// to abandon an injection that failed partway (the partial entry
// remains on disk, readable as an incomplete entry).
func (w *Writer) Close() error {
	berr := w.body.Close()
	serr := w.sigs.Close()
	if berr != nil {
		return berr
	}
	return serr
}
