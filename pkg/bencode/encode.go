package bencode

import (
	"fmt"
	"sort"
	"strconv"
)

// ============================================================================
//                              编码
// ============================================================================

// Encode bencodes v. Supported types: []byte, string (byte strings),
// int, int64 (signed integers), []any (lists), Dict and map[string]any
// (dictionaries, always emitted in sorted-key order).
func Encode(v any) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf, err := appendValue(buf, v)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func appendValue(buf []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return appendByteString(buf, x), nil
	case string:
		return appendByteString(buf, []byte(x)), nil
	case int:
		return appendInt(buf, int64(x)), nil
	case int64:
		return appendInt(buf, x), nil
	case []any:
		return appendList(buf, x)
	case Dict:
		return appendDict(buf, x)
	case map[string]any:
		return appendDict(buf, mapToDict(x))
	default:
		return nil, fmt.Errorf("bencode: unsupported type %T", v)
	}
}

func appendByteString(buf []byte, s []byte) []byte {
	buf = append(buf, strconv.Itoa(len(s))...)
	buf = append(buf, ':')
	return append(buf, s...)
}

func appendInt(buf []byte, n int64) []byte {
	buf = append(buf, 'i')
	buf = strconv.AppendInt(buf, n, 10)
	return append(buf, 'e')
}

func appendList(buf []byte, items []any) ([]byte, error) {
	buf = append(buf, 'l')
	for _, item := range items {
		var err error
		buf, err = appendValue(buf, item)
		if err != nil {
			return nil, err
		}
	}
	return append(buf, 'e'), nil
}

func appendDict(buf []byte, d Dict) ([]byte, error) {
	// Dict is documented to stay sorted, but defend against callers that
	// built one by hand (e.g. a literal Dict{...}) out of order: signing
	// correctness depends on this.
	sorted := d
	if !sort.SliceIsSorted(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key }) {
		sorted = append(Dict{}, d...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	}

	buf = append(buf, 'd')
	for _, kv := range sorted {
		buf = appendByteString(buf, []byte(kv.Key))
		var err error
		buf, err = appendValue(buf, kv.Value)
		if err != nil {
			return nil, err
		}
	}
	return append(buf, 'e'), nil
}

func mapToDict(m map[string]any) Dict {
	d := make(Dict, 0, len(m))
	for k, v := range m {
		d = append(d, KV{k, v})
	}
	sort.Slice(d, func(i, j int) bool { return d[i].Key < d[j].Key })
	return d
}
