package cataloger

import (
	"bytes"
	"encoding/json"
)

// flexString decodes a JSON value that providers serve inconsistently as
// either a string or a number ("12" vs 12). null decodes to "".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// flexInt tolerates numbers arriving as strings, and anything unparseable
// decodes to 0.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		var n json.Number = json.Number(s)
		i, err := n.Int64()
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexInt(i)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(int(n))
	return nil
}
