package fingerprint

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	appErrors "github.com/charlesng35/hycredit/pkg/errors"
)

// Canonicalize renders v as canonical JSON:
//   - object keys sorted by byte order at every depth
//   - no insignificant whitespace and no HTML escaping
//   - numbers kept exactly as encoding/json first rendered them
//   - RFC 3339 timestamps normalised to UTC with trailing zero nanoseconds trimmed
//
// Values encoding/json cannot serialise (channels, NaN, cyclic pointers) fail
// with an ENCODING_ERROR.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, appErrors.ErrEncoding.WithInternal(err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, appErrors.ErrEncoding.WithInternal(err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, appErrors.ErrEncoding.WithInternal(err)
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case string:
		return writeString(buf, normaliseTimestamp(val))
	case json.Number:
		buf.WriteString(val.String())
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

func normaliseTimestamp(s string) string {
	// Cheap shape check before attempting a parse: "YYYY-MM-DDTHH:MM:SS".
	if len(s) < 20 || s[4] != '-' || s[7] != '-' || s[10] != 'T' {
		return s
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return ts.UTC().Format(time.RFC3339Nano)
}
