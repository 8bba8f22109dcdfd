package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DecodeList accepts a bare array or an object with an items array and
// decodes the elements into out, which must point to a slice. Anything else
// leaves out untouched.
func DecodeList(raw json.RawMessage, out interface{}) error {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, out)
	}
	if b[0] != '{' {
		return fmt.Errorf("unexpected list response shape")
	}
	wrapped := struct {
		Items json.RawMessage `json:"items"`
	}{}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	if len(wrapped.Items) == 0 || bytes.Equal(wrapped.Items, []byte("null")) {
		return nil
	}
	return json.Unmarshal(wrapped.Items, out)
}

// DecodeLink accepts a bare string, {checkoutUrl} or {payUrl} and returns
// the link, or "" when there is none.
func DecodeLink(raw json.RawMessage) (string, error) {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{':
		links := struct {
			CheckoutURL *string `json:"checkoutUrl"`
			PayURL      *string `json:"payUrl"`
		}{}
		if err := json.Unmarshal(b, &links); err != nil {
			return "", err
		}
		if links.CheckoutURL != nil && *links.CheckoutURL != "" {
			return *links.CheckoutURL, nil
		}
		if links.PayURL != nil {
			return *links.PayURL, nil
		}
		return "", nil
	}
	return "", fmt.Errorf("unexpected link response shape")
}

// Decimal is a price that workflows send either as a number or as a numeric
// string.
type Decimal float64

func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*d = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		*d = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	*d = Decimal(f)
	return nil
}

func (d Decimal) Float64() float64 {
	return float64(d)
}

// Bool is a flag that workflows send as a JSON bool or as the strings
// "True"/"False".
type Bool bool

func (v *Bool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		*v = true
	default:
		*v = false
	}
	return nil
}

// String is a value that clients send either as a string or as a
// number.
type String string

func (v *String) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*v = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*v = String(str)
		return nil
	}
	*v = String(s)
	return nil
}
