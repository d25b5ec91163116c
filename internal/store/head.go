package store

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dem31/ouinet/pkg/signedhttp"
)

// encodeHead renders head as a tiny line-oriented record: the status
// code, then one "Name: Value" line per header value (multi-value
// headers repeat the name), sorted by name for a deterministic file.
// This is a store-internal format, not wire HTTP — nothing outside
// this package parses a head file directly.
func encodeHead(head signedhttp.Head) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d\n", head.Status)
	keys := make([]string, 0, len(head.Header))
	for k := range head.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range head.Header[k] {
			fmt.Fprintf(&buf, "%s: %s\n", k, v)
		}
	}
	return buf.Bytes()
}

func decodeHead(data []byte) (signedhttp.Head, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	if !sc.Scan() {
		return signedhttp.Head{}, fmt.Errorf("store: empty head record")
	}
	status, err := strconv.Atoi(sc.Text())
	if err != nil {
		return signedhttp.Head{}, fmt.Errorf("store: bad head status line %q: %w", sc.Text(), err)
	}
	h := http.Header{}
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		name, val, ok := strings.Cut(line, ": ")
		if !ok {
			return signedhttp.Head{}, fmt.Errorf("store: malformed head line %q", line)
		}
		h.Add(name, val)
	}
	if err := sc.Err(); err != nil {
		return signedhttp.Head{}, fmt.Errorf("store: reading head: %w", err)
	}
	return signedhttp.Head{Status: status, Header: h}, nil
}

// isComplete reports whether head carries the trailer fields Complete
// merges in once the full body has landed; an entry missing them is
// the "incomplete entry" case spec.md §4.6 asks readers to tolerate.
func isComplete(head signedhttp.Head) bool {
	return head.Header.Get(signedhttp.HeaderSig1) != ""
}

// pruneRedundantSignatures keeps exactly one value for each of
// X-Ouinet-Sig0 and X-Ouinet-Sig1, should the head carry more than
// one — e.g. a response re-injected by a second client before the
// first's write settled. The kept value is the one covering the most
// headers, ties broken by the most recent "created" timestamp.
func pruneRedundantSignatures(head *signedhttp.Head) {
	for _, name := range []string{signedhttp.HeaderSig0, signedhttp.HeaderSig1} {
		key := http.CanonicalHeaderKey(name)
		vals := head.Header[key]
		if len(vals) <= 1 {
			continue
		}
		var best string
		var bestSig signedhttp.Signature
		for _, v := range vals {
			sig, err := signedhttp.ParseSignature(v)
			if err != nil {
				continue
			}
			if best == "" || betterSignature(sig, bestSig) {
				best, bestSig = v, sig
			}
		}
		if best != "" {
			head.Header.Set(name, best)
		}
	}
}

func betterSignature(a, b signedhttp.Signature) bool {
	if len(a.Headers) != len(b.Headers) {
		return len(a.Headers) > len(b.Headers)
	}
	return a.Created > b.Created
}

// atomicWriteFile writes data to path via a same-directory temp file,
// fsyncs it, and renames it into place. The teacher's persistent
// store writes-then-renames without an intervening fsync; spec.md
// §4.6 requires the fsync explicitly (a crash between write and
// rename must not leave a zero-length or partially-flushed head
// visible), so it is added here.
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("store: creating %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("store: writing %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("store: fsyncing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}
