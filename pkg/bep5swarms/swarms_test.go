package bep5swarms

import (
	"crypto/ed25519"
	"crypto/sha1"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPubkey(t *testing.T) ed25519.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub
}

func TestSwarmNameFormat(t *testing.T) {
	pub := testPubkey(t)

	inj := InjectorName(pub, 5)
	assert.True(t, strings.HasPrefix(inj, "ed25519:"))
	assert.True(t, strings.HasSuffix(inj, "/v5/injectors"))

	br := BridgeName(pub, 5)
	assert.True(t, strings.HasSuffix(br, "/v5/bridges"))

	uri := URIName(pub, 5, "https://example.com/a")
	assert.True(t, strings.HasSuffix(uri, "/v5/uri/https://example.com/a"))

	// the three kinds share the same "ed25519:<pubkey>/v<proto>" prefix
	prefixLen := len("ed25519:") + len(pubkeyEncoding.EncodeToString(pub)) + len("/v5")
	assert.Equal(t, inj[:prefixLen], br[:prefixLen])
	assert.Equal(t, inj[:prefixLen], uri[:prefixLen])
}

func TestSwarmNameHasNoPadding(t *testing.T) {
	pub := testPubkey(t)
	assert.NotContains(t, InjectorName(pub, 5), "=")
}

func TestInfoHashIsSHA1OfName(t *testing.T) {
	name := "ed25519:AAAA/v5/injectors"
	want := sha1.Sum([]byte(name))
	got := InfoHash(name)
	assert.Equal(t, want[:], got.Bytes())
}

func TestInjectorBridgeURIInfoHashesDiffer(t *testing.T) {
	pub := testPubkey(t)
	inj := Injector(pub, 5)
	br := Bridge(pub, 5)
	uri := URI(pub, 5, "https://example.com/a")
	assert.NotEqual(t, inj, br)
	assert.NotEqual(t, inj, uri)
	assert.NotEqual(t, br, uri)
}

func TestURIInfoHashVariesByKey(t *testing.T) {
	pub := testPubkey(t)
	a := URI(pub, 5, "https://example.com/a")
	b := URI(pub, 5, "https://example.com/b")
	assert.NotEqual(t, a, b)
}

func TestSwarmInfoHashStableAcrossCalls(t *testing.T) {
	pub := testPubkey(t)
	assert.Equal(t, Injector(pub, 5), Injector(pub, 5))
}
