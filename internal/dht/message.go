package dht

import (
	"fmt"

	"github.com/dem31/ouinet/pkg/bencode"
)

// ============================================================================
//                              KRPC 消息
// ============================================================================

// BEP-5 error codes (201-204), plus the BEP-44 additions (205-207, 301, 302).
const (
	ErrCodeGeneric        = 201 // also used for "not responsible" in this design
	ErrCodeServer         = 202
	ErrCodeProtocol       = 203
	ErrCodeMethodUnknown  = 204
	ErrCodeValueTooBig    = 205
	ErrCodeBadSignature   = 206
	ErrCodeSaltTooBig     = 207
	ErrCodeCASMismatch    = 301
	ErrCodeSeqRegression  = 302
)

// krpcError is the [code, message] pair carried in an "e" response.
type krpcError struct {
	Code    int
	Message string
}

func (e *krpcError) Error() string {
	return fmt.Sprintf("krpc error %d: %s", e.Code, e.Message)
}

// message is a parsed KRPC envelope: exactly one of Query/Response/Err is
// populated, selected by Y.
type message struct {
	T string // transaction id, opaque bytes carried as a string
	Y string // "q", "r", or "e"

	Query    string      // present when Y == "q"
	Args     bencode.Dict // present when Y == "q"
	Response bencode.Dict // present when Y == "r"
	Err      *krpcError   // present when Y == "e"
}

func encodeMessage(m *message) ([]byte, error) {
	d := bencode.NewDict(bencode.KV{Key: "t", Value: []byte(m.T)}, bencode.KV{Key: "y", Value: []byte(m.Y)})
	switch m.Y {
	case "q":
		d = d.Set("q", []byte(m.Query))
		d = d.Set("a", m.Args)
	case "r":
		d = d.Set("r", m.Response)
	case "e":
		d = d.Set("e", []any{int64(m.Err.Code), []byte(m.Err.Message)})
	default:
		return nil, fmt.Errorf("dht: unknown message type %q", m.Y)
	}
	return bencode.Encode(d)
}

func decodeMessage(b []byte) (*message, error) {
	v, err := bencode.DecodeFull(b)
	if err != nil {
		return nil, err
	}
	d, ok := v.(bencode.Dict)
	if !ok {
		return nil, fmt.Errorf("dht: top-level KRPC value is not a dict")
	}

	t, ok := d.GetString("t")
	if !ok {
		return nil, fmt.Errorf("dht: message missing transaction id")
	}
	y, ok := d.GetString("y")
	if !ok {
		return nil, fmt.Errorf("dht: message missing type")
	}

	m := &message{T: t, Y: y}
	switch y {
	case "q":
		q, ok := d.GetString("q")
		if !ok {
			return nil, fmt.Errorf("dht: query missing method name")
		}
		args, _ := d.GetDict("a")
		m.Query = q
		m.Args = args
	case "r":
		resp, ok := d.GetDict("r")
		if !ok {
			return nil, fmt.Errorf("dht: response missing result dict")
		}
		m.Response = resp
	case "e":
		list, ok := d.GetList("e")
		if !ok || len(list) != 2 {
			return nil, fmt.Errorf("dht: malformed error body")
		}
		code, ok := list[0].(int64)
		if !ok {
			return nil, fmt.Errorf("dht: error code is not an integer")
		}
		msgBytes, ok := list[1].([]byte)
		if !ok {
			return nil, fmt.Errorf("dht: error message is not a string")
		}
		m.Err = &krpcError{Code: int(code), Message: string(msgBytes)}
	default:
		return nil, fmt.Errorf("dht: unknown message type %q", y)
	}
	return m, nil
}

// ============================================================================
//                              事务 ID
// ============================================================================

// txnIDGenerator produces monotonic 32-bit transaction ids, serialized as
// the minimal-length big-endian byte string BEP-5 expects: 1 to 4 bytes,
// with id 0 represented as a single NUL byte.
type txnIDGenerator struct {
	next uint32
}

func (g *txnIDGenerator) Next() string {
	id := g.next
	g.next++
	return encodeTxnID(id)
}

func encodeTxnID(id uint32) string {
	if id == 0 {
		return "\x00"
	}
	var b []byte
	for shift := 24; shift >= 0; shift -= 8 {
		by := byte(id >> uint(shift))
		if len(b) == 0 && by == 0 && shift != 0 {
			continue
		}
		b = append(b, by)
	}
	return string(b)
}
