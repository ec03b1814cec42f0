package ordering

import (
	"encoding/json"
	"strconv"
)

// valueToString implements spec.md's Design Notes §9 "Numeric coercion in
// ordering": strings pass through, numbers stringify in minimal decimal
// form, everything else (bool, null, array, object) becomes empty.
//
// Payloads decoded with json.Decoder.UseNumber() carry json.Number values,
// which already hold the wire's minimal decimal text — that text is
// returned as-is rather than round-tripped through float64, which would
// risk reformatting (e.g. losing trailing zeros the original_source's
// integer/float split never had to worry about). Plain float64/int values
// (payloads built in-process rather than decoded) are formatted to match.
func valueToString(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case json.Number:
		return n.String()
	case float64:
		return formatFloat(n)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case uint64:
		return strconv.FormatUint(n, 10)
	default:
		return ""
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
