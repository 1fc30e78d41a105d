package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Opaque is a free-form payload column. The store keeps it as text and never
// interprets it; on the way out it is rendered as structured JSON when the
// text parses as JSON and as the raw string otherwise. The read path never
// fails on a malformed payload.
type Opaque struct {
	raw   string
	valid bool
}

func OpaqueString(s string) Opaque {
	return Opaque{raw: s, valid: true}
}

// OpaqueFromPtr maps a nullable database column onto an Opaque.
func OpaqueFromPtr(p *string) Opaque {
	if p == nil {
		return Opaque{}
	}
	return Opaque{raw: *p, valid: true}
}

func (o Opaque) IsZero() bool { return !o.valid }

func (o Opaque) String() string { return o.raw }

// Ptr returns the text for a nullable database column.
func (o Opaque) Ptr() *string {
	if !o.valid {
		return nil
	}
	raw := o.raw
	return &raw
}

func (o Opaque) MarshalJSON() ([]byte, error) {
	if !o.valid {
		return []byte("null"), nil
	}
	trimmed := strings.TrimSpace(o.raw)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		var compact bytes.Buffer
		if err := json.Compact(&compact, []byte(trimmed)); err == nil {
			return compact.Bytes(), nil
		}
	}
	return json.Marshal(o.raw)
}

func (o *Opaque) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*o = Opaque{}
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*o = Opaque{raw: s, valid: true}
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return err
	}
	*o = Opaque{raw: compact.String(), valid: true}
	return nil
}
