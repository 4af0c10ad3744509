package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"slices"
	"strconv"
)

// errNotObject reports a body that is not a single JSON object.
var errNotObject = errors.New("body is not a JSON object")

// encodeForm flattens a JSON object into application/x-www-form-urlencoded
// text. Nested objects become parent[child], arrays of scalars repeat
// key[], arrays holding objects or arrays use key[i]. Keys are sorted.
func encodeForm(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, errNotObject
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errNotObject
	}

	var buf bytes.Buffer
	appendObject(&buf, "", obj)
	return buf.Bytes(), nil
}

func appendObject(buf *bytes.Buffer, prefix string, obj map[string]any) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "[" + k + "]"
		}
		appendValue(buf, name, obj[k])
	}
}

func appendValue(buf *bytes.Buffer, name string, v any) {
	switch v := v.(type) {
	case map[string]any:
		appendObject(buf, name, v)
	case []any:
		for i, elem := range v {
			switch elem.(type) {
			case map[string]any, []any:
				appendValue(buf, name+"["+strconv.Itoa(i)+"]", elem)
			default:
				appendValue(buf, name+"[]", elem)
			}
		}
	default:
		appendPair(buf, name, scalarText(v))
	}
}

func appendPair(buf *bytes.Buffer, name, value string) {
	if buf.Len() > 0 {
		buf.WriteByte('&')
	}
	buf.WriteString(url.QueryEscape(name))
	buf.WriteByte('=')
	buf.WriteString(url.QueryEscape(value))
}

func scalarText(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
