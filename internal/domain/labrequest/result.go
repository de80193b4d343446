package labrequest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Parameter is one measured value of a test, e.g. {"Hgb", "13.5"}.
type Parameter struct {
	Key   string
	Value string
}

// Parameters keeps the order in which a JSON object listed its keys, which
// is the order the bench entered them and the order they are reported in.
type Parameters []Parameter

func (p *Parameters) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("parameters must be a JSON object")
	}

	var out Parameters
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		val, err := scalarString(raw)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", key, err)
		}
		out = append(out, Parameter{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

func (p Parameters) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(kv.Key)
		v, _ := json.Marshal(kv.Value)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// scalarString renders a JSON string, number or boolean as bench text.
func scalarString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '{' || trimmed[0] == '[' {
		return "", fmt.Errorf("value must be a string, number or boolean")
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	return string(trimmed), nil
}

// Render formats the parameters as the stored result text:
// "Wbc: 7.2, Hgb: 13.5". Keys get an upper-cased first letter.
func (p Parameters) Render() string {
	parts := make([]string, 0, len(p))
	for _, kv := range p {
		parts = append(parts, upperFirst(kv.Key)+": "+kv.Value)
	}
	return strings.Join(parts, ", ")
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
