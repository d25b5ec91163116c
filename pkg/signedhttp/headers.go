package signedhttp

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Version is the protocol version stamped into X-Ouinet-Version.
const Version = 5

// DefaultBlockSize is the block size used to partition response
// bodies when a signer does not override it.
const DefaultBlockSize = 65536

// MaxBlockSize bounds the "size" field of X-Ouinet-BSigs to a sane
// range; a verifier rejects anything larger.
const MaxBlockSize = 16 << 20 // 16 MiB

// Header names used by the signed response codec.
const (
	HeaderVersion    = "X-Ouinet-Version"
	HeaderURI        = "X-Ouinet-URI"
	HeaderInjection  = "X-Ouinet-Injection"
	HeaderBSigs      = "X-Ouinet-BSigs"
	HeaderSig0       = "X-Ouinet-Sig0"
	HeaderSig1       = "X-Ouinet-Sig1"
	HeaderDataSize   = "X-Ouinet-Data-Size"
	HeaderHTTPStatus = "X-Ouinet-HTTP-Status"
	HeaderAvailData  = "X-Ouinet-Avail-Data"
	HeaderDigest     = "Digest"
)

// Chunk extension names carried on each chunk of a signed stream.
const (
	ChunkExtSig  = "ouisig"
	ChunkExtHash = "ouihash"
)

// SignedHeaders is the fixed, ordered candidate list of pseudo- and
// real headers covered by sig0/sig1. The two pseudo-headers always
// come first; the rest are real head fields included only when
// present on the head being signed. A freshly produced signature
// records the subset it actually used in its own "headers=" field, so
// a verifier reconstructs the signing string from that field rather
// than from this list directly (see DESIGN.md).
var SignedHeaders = []string{
	"(response-status)",
	"(created)",
	"date",
	"server",
	"content-type",
	"content-disposition",
	"content-encoding",
	"accept-ranges",
	HeaderVersion,
	HeaderURI,
	HeaderInjection,
	HeaderBSigs,
}

// TrailerSignedHeaders extends SignedHeaders with the fields only
// known once the body has been fully injected; sig1 covers this list.
var TrailerSignedHeaders = append(append([]string(nil), SignedHeaders...), HeaderDataSize, HeaderDigest)

const keyIDPrefix = "ed25519="

// EncodeKeyID formats pub the way keyId fields on BSigs/Sig0/Sig1 do.
func EncodeKeyID(pub ed25519.PublicKey) string {
	return keyIDPrefix + base64.StdEncoding.EncodeToString(pub)
}

// DecodeKeyID parses a keyId field of the form "ed25519=<base64>".
func DecodeKeyID(s string) (ed25519.PublicKey, error) {
	s = strings.Trim(s, `"`)
	if !strings.HasPrefix(s, keyIDPrefix) {
		return nil, fmt.Errorf("signedhttp: keyId %q missing %q prefix", s, keyIDPrefix)
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, keyIDPrefix))
	if err != nil {
		return nil, fmt.Errorf("signedhttp: decoding keyId: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signedhttp: keyId has %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

// params is an ordered list of key=value pairs as found in BSigs and
// Sig0/Sig1 header values: comma-separated, values optionally quoted.
type params struct {
	keys []string
	vals map[string]string
}

func newParams() *params { return &params{vals: map[string]string{}} }

func (p *params) set(key, val string) *params {
	if _, ok := p.vals[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.vals[key] = val
	return p
}

func (p *params) get(key string) (string, bool) {
	v, ok := p.vals[key]
	return v, ok
}

// String renders the params in insertion order, quoting every value
// (matching the wire examples in spec.md, which quote algorithm,
// headers, and signature uniformly).
func (p *params) String() string {
	var b strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteByte('"')
		b.WriteString(p.vals[k])
		b.WriteByte('"')
	}
	return b.String()
}

// parseParams splits a comma-separated key=value list. It does not
// attempt to honor commas embedded inside quoted values: none of the
// fields this codec emits or expects (base64 blobs, space-joined
// header name lists, decimal numbers) ever contain one, so a bare
// split is sufficient and anything that needs quote-aware splitting
// is rejected by the caller instead of guessed at.
func parseParams(s string) (*params, error) {
	p := newParams()
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			return nil, fmt.Errorf("signedhttp: malformed parameter %q", part)
		}
		key := strings.TrimSpace(part[:eq])
		val := strings.TrimSpace(part[eq+1:])
		val = strings.Trim(val, `"`)
		p.set(key, val)
	}
	return p, nil
}

// BSigs holds the parsed X-Ouinet-BSigs header: the signing key,
// advertised algorithm, and block size.
type BSigs struct {
	KeyID     string
	Algorithm string
	Size      int
}

// String formats b the way a Signer stamps it onto a head.
func (b BSigs) String() string {
	p := newParams()
	p.set("keyId", b.KeyID)
	p.set("algorithm", b.Algorithm)
	p.set("size", strconv.Itoa(b.Size))
	return p.String()
}

// ParseBSigs parses the value of an X-Ouinet-BSigs header.
func ParseBSigs(s string) (BSigs, error) {
	p, err := parseParams(s)
	if err != nil {
		return BSigs{}, fmt.Errorf("signedhttp: parsing BSigs: %w", err)
	}
	keyID, ok := p.get("keyId")
	if !ok {
		return BSigs{}, fmt.Errorf("signedhttp: BSigs missing keyId")
	}
	algo, ok := p.get("algorithm")
	if !ok {
		return BSigs{}, fmt.Errorf("signedhttp: BSigs missing algorithm")
	}
	if algo != AlgorithmHS2019 {
		return BSigs{}, fmt.Errorf("signedhttp: unsupported BSigs algorithm %q", algo)
	}
	sizeStr, ok := p.get("size")
	if !ok {
		return BSigs{}, fmt.Errorf("signedhttp: BSigs missing size")
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size <= 0 || size > MaxBlockSize {
		return BSigs{}, fmt.Errorf("signedhttp: BSigs size %q out of range", sizeStr)
	}
	return BSigs{KeyID: keyID, Algorithm: algo, Size: size}, nil
}

// Injection holds the parsed X-Ouinet-Injection header: the id that
// binds every block signature to this one response, and the unix
// second it was produced.
type Injection struct {
	ID        string
	Timestamp int64
}

func (inj Injection) String() string {
	p := newParams()
	p.set("id", inj.ID)
	p.set("ts", strconv.FormatInt(inj.Timestamp, 10))
	return p.String()
}

// ParseInjection parses the value of an X-Ouinet-Injection header.
func ParseInjection(s string) (Injection, error) {
	p, err := parseParams(s)
	if err != nil {
		return Injection{}, fmt.Errorf("signedhttp: parsing Injection: %w", err)
	}
	id, ok := p.get("id")
	if !ok {
		return Injection{}, fmt.Errorf("signedhttp: Injection missing id")
	}
	tsStr, ok := p.get("ts")
	if !ok {
		return Injection{}, fmt.Errorf("signedhttp: Injection missing ts")
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Injection{}, fmt.Errorf("signedhttp: Injection bad ts %q", tsStr)
	}
	return Injection{ID: id, Timestamp: ts}, nil
}
