package signedhttp

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// AlgorithmHS2019 is the only signature algorithm this codec speaks.
const AlgorithmHS2019 = "hs2019"

// Head is the frozen, signable part of an HTTP response: its status
// line and headers, excluding any framing header (Transfer-Encoding,
// Content-Length, Trailer).
type Head struct {
	Status int
	Header http.Header
}

// Signature is a parsed X-Ouinet-Sig0/Sig1 value.
type Signature struct {
	KeyID     string
	Algorithm string
	Created   int64
	Headers   []string // space-joined in the wire form, signing order
	Signature []byte
}

// String formats sig the way a Signer stamps it onto a head.
func (sig Signature) String() string {
	p := newParams()
	p.set("keyId", sig.KeyID)
	p.set("algorithm", sig.Algorithm)
	p.set("created", strconv.FormatInt(sig.Created, 10))
	p.set("headers", strings.Join(sig.Headers, " "))
	p.set("signature", base64.StdEncoding.EncodeToString(sig.Signature))
	return p.String()
}

// ParseSignature parses the value of an X-Ouinet-Sig0/Sig1 header.
func ParseSignature(s string) (Signature, error) {
	p, err := parseParams(s)
	if err != nil {
		return Signature{}, fmt.Errorf("signedhttp: parsing signature: %w", err)
	}
	keyID, ok := p.get("keyId")
	if !ok {
		return Signature{}, fmt.Errorf("signedhttp: signature missing keyId")
	}
	algo, ok := p.get("algorithm")
	if !ok {
		return Signature{}, fmt.Errorf("signedhttp: signature missing algorithm")
	}
	createdStr, ok := p.get("created")
	if !ok {
		return Signature{}, fmt.Errorf("signedhttp: signature missing created")
	}
	created, err := strconv.ParseInt(createdStr, 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("signedhttp: signature bad created %q", createdStr)
	}
	headersStr, ok := p.get("headers")
	if !ok {
		return Signature{}, fmt.Errorf("signedhttp: signature missing headers")
	}
	sigStr, ok := p.get("signature")
	if !ok {
		return Signature{}, fmt.Errorf("signedhttp: signature missing signature")
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sigStr)
	if err != nil {
		return Signature{}, fmt.Errorf("signedhttp: decoding signature bytes: %w", err)
	}
	return Signature{
		KeyID:     keyID,
		Algorithm: algo,
		Created:   created,
		Headers:   strings.Fields(headersStr),
		Signature: sigBytes,
	}, nil
}

// headerValue resolves one signing-string line's value: the two
// pseudo-headers come from status/created directly, everything else
// comes from head.Header (case-insensitively, via http.Header.Get).
func headerValue(head Head, name string, created int64) (string, bool) {
	switch name {
	case "(response-status)":
		return strconv.Itoa(head.Status), true
	case "(created)":
		return strconv.FormatInt(created, 10), true
	default:
		v := head.Header.Get(name)
		return v, v != ""
	}
}

// buildSigningString renders the HTTP-signature base string for head
// over exactly the given header list, in order, one "name: value" per
// line joined by "\n" (per draft-cavage-http-signatures-12). It
// reports false if any named header is absent from head.
func buildSigningString(head Head, created int64, headers []string) (string, bool) {
	lines := make([]string, 0, len(headers))
	for _, name := range headers {
		val, ok := headerValue(head, name, created)
		if !ok {
			return "", false
		}
		lines = append(lines, name+": "+val)
	}
	return strings.Join(lines, "\n"), true
}

// SignHead signs head with priv under keyID, using created as the
// value of the "(created)" pseudo-header. candidates is filtered down
// to the subset actually present on head (per SignedHeaders /
// TrailerSignedHeaders); the subset used is recorded on the returned
// Signature's Headers field.
func SignHead(priv ed25519.PrivateKey, keyID string, head Head, created int64, candidates []string) Signature {
	used := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if _, ok := headerValue(head, name, created); ok {
			used = append(used, name)
		}
	}
	str, _ := buildSigningString(head, created, used)
	return Signature{
		KeyID:     keyID,
		Algorithm: AlgorithmHS2019,
		Created:   created,
		Headers:   used,
		Signature: ed25519.Sign(priv, []byte(str)),
	}
}

// VerifyHead verifies sig against head using pub. The signing string
// is reconstructed purely from sig's own recorded Headers list (not
// from SignedHeaders), the way the format's verifier must: a receiver
// never guesses which subset the signer used.
func VerifyHead(pub ed25519.PublicKey, head Head, sig Signature) error {
	if sig.Algorithm != AlgorithmHS2019 {
		return fmt.Errorf("signedhttp: unsupported signature algorithm %q", sig.Algorithm)
	}
	str, ok := buildSigningString(head, sig.Created, sig.Headers)
	if !ok {
		return fmt.Errorf("signedhttp: a header listed in the signature is missing from the head")
	}
	if len(sig.Signature) != ed25519.SignatureSize {
		return fmt.Errorf("signedhttp: signature has wrong length %d", len(sig.Signature))
	}
	if !ed25519.Verify(pub, []byte(str), sig.Signature) {
		return fmt.Errorf("signedhttp: signature verification failed")
	}
	return nil
}
