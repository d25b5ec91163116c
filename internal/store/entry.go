package store

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dem31/ouinet/pkg/signedhttp"
)

// Entry is a handle to one response already persisted in a Store.
type Entry struct {
	dir string
}

// Head returns the entry's stored head, trailer fields merged in if
// the entry is complete.
func (e *Entry) Head() (signedhttp.Head, error) {
	data, err := os.ReadFile(filepath.Join(e.dir, headFile))
	if err != nil {
		return signedhttp.Head{}, fmt.Errorf("store: reading head: %w", err)
	}
	return decodeHead(data)
}

func (e *Entry) readSigs() ([]sigsRecord, error) {
	f, err := os.Open(filepath.Join(e.dir, sigsFile))
	if err != nil {
		return nil, fmt.Errorf("store: opening sigs: %w", err)
	}
	defer f.Close()
	return readSigsRecords(f)
}

func (e *Entry) blockSize(head signedhttp.Head) (int64, error) {
	bsigs, err := signedhttp.ParseBSigs(head.Header.Get(signedhttp.HeaderBSigs))
	if err != nil {
		return 0, err
	}
	return int64(bsigs.Size), nil
}

// WholeReader streams the entry's head followed by its body replayed
// as ouinet's chunked, block-signed wire form, exactly as a fresh
// injection would. If the entry is incomplete, the stream ends after
// the last available block with no trailer, per spec.md §8 scenario
// 2 — callers must not expect the data-size/digest invariants to hold
// until a subsequent read finds the entry complete.
func (e *Entry) WholeReader() (signedhttp.Head, io.ReadCloser, error) {
	head, err := e.Head()
	if err != nil {
		return signedhttp.Head{}, nil, err
	}
	recs, err := e.readSigs()
	if err != nil {
		return signedhttp.Head{}, nil, err
	}
	body, err := os.Open(filepath.Join(e.dir, bodyFile))
	if err != nil {
		return signedhttp.Head{}, nil, fmt.Errorf("store: opening body: %w", err)
	}

	if len(recs) == 0 {
		body.Close()
		pr, pw := io.Pipe()
		pw.Close()
		return head, pr, nil
	}

	complete := isComplete(head)
	pr, pw := io.Pipe()
	go func() {
		defer body.Close()
		err := writeBlockStream(pw, body, recs, 0, len(recs)-1)
		if err == nil && complete {
			err = signedhttp.WriteTrailer(pw, head)
		}
		pw.CloseWithError(err)
	}()
	return head, pr, nil
}

// RangeReader streams a 206 Partial Content replay of the block-
// aligned range covering [first, last], snapping outward to block
// boundaries per the invariant first_block = first/B, last_block =
// last/B (spec.md §4.6's Invariants). It returns signedhttp.ErrInvalidSeek
// if the requested range reaches past the blocks actually on disk.
//
// spec.md's own worked example for this scenario (Content-Range
// bytes 65536-131075/131076 for a request starting at byte 32768)
// does not reduce to this formula — flooring 32768 by a 65536-byte
// block size lands in block 0, not block 1 — so it is treated as an
// error in that example rather than as the rule to reproduce; see
// DESIGN.md.
func (e *Entry) RangeReader(first, last int64) (signedhttp.Head, io.ReadCloser, error) {
	head, err := e.Head()
	if err != nil {
		return signedhttp.Head{}, nil, err
	}
	blockSize, err := e.blockSize(head)
	if err != nil {
		return signedhttp.Head{}, nil, err
	}
	recs, err := e.readSigs()
	if err != nil {
		return signedhttp.Head{}, nil, err
	}

	if first < 0 || first > last || blockSize <= 0 {
		return signedhttp.Head{}, nil, signedhttp.ErrInvalidSeek
	}
	firstBlock := first / blockSize
	lastBlock := last / blockSize
	if int(lastBlock) >= len(recs) {
		return signedhttp.Head{}, nil, signedhttp.ErrInvalidSeek
	}

	rangeStart := firstBlock * blockSize
	var total int64 = -1
	if ds := head.Header.Get(signedhttp.HeaderDataSize); ds != "" {
		if n, err := strconv.ParseInt(ds, 10, 64); err == nil {
			total = n
		}
	}

	var rangeEnd int64
	if int(lastBlock) == len(recs)-1 {
		if total >= 0 {
			rangeEnd = total - 1
		} else {
			fi, err := os.Stat(filepath.Join(e.dir, bodyFile))
			if err != nil {
				return signedhttp.Head{}, nil, fmt.Errorf("store: statting body: %w", err)
			}
			rangeEnd = fi.Size() - 1
		}
	} else {
		rangeEnd = (lastBlock+1)*blockSize - 1
	}

	totalStr := "*"
	if total >= 0 {
		totalStr = strconv.FormatInt(total, 10)
	}
	rangeHead := cloneHeadForRange(head, rangeStart, rangeEnd, totalStr)

	body, err := os.Open(filepath.Join(e.dir, bodyFile))
	if err != nil {
		return signedhttp.Head{}, nil, fmt.Errorf("store: opening body: %w", err)
	}
	if _, err := body.Seek(rangeStart, io.SeekStart); err != nil {
		body.Close()
		return signedhttp.Head{}, nil, fmt.Errorf("store: seeking body: %w", err)
	}

	complete := isComplete(head)
	pr, pw := io.Pipe()
	go func() {
		defer body.Close()
		err := writeBlockStream(pw, body, recs, int(firstBlock), int(lastBlock))
		if err == nil && complete {
			err = signedhttp.WriteTrailer(pw, head)
		}
		pw.CloseWithError(err)
	}()
	return rangeHead, pr, nil
}

func cloneHeadForRange(head signedhttp.Head, start, end int64, totalStr string) signedhttp.Head {
	h := make(http.Header, len(head.Header)+2)
	for k, v := range head.Header {
		h[k] = append([]string(nil), v...)
	}
	h.Set(signedhttp.HeaderHTTPStatus, strconv.Itoa(head.Status))
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", start, end, totalStr))
	return signedhttp.Head{Status: http.StatusPartialContent, Header: h}
}

// HeadOnlyReader returns head stamped with X-Ouinet-Avail-Data
// describing the contiguous byte range actually present on disk,
// without opening the body. Useful for a peer deciding whether an
// entry is worth a full or range request before committing to one.
func (e *Entry) HeadOnlyReader() (signedhttp.Head, error) {
	head, err := e.Head()
	if err != nil {
		return signedhttp.Head{}, err
	}
	recs, err := e.readSigs()
	if err != nil {
		return signedhttp.Head{}, err
	}
	if len(recs) == 0 {
		return head, nil
	}

	totalStr := "*"
	if ds := head.Header.Get(signedhttp.HeaderDataSize); ds != "" {
		totalStr = ds
	}

	fi, err := os.Stat(filepath.Join(e.dir, bodyFile))
	if err != nil {
		return signedhttp.Head{}, fmt.Errorf("store: statting body: %w", err)
	}

	h := make(http.Header, len(head.Header)+1)
	for k, v := range head.Header {
		h[k] = append([]string(nil), v...)
	}
	h.Set(signedhttp.HeaderAvailData, fmt.Sprintf("bytes 0-%d/%s", fi.Size()-1, totalStr))
	return signedhttp.Head{Status: head.Status, Header: h}, nil
}
