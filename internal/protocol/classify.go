package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrMalformedFrame is returned by Classify for text that is not usable JSON.
var ErrMalformedFrame = errors.New("malformed frame")

// controlFields holds the recognised keys of an inbound object. wsStatus and
// config are the spellings used on the STOMP channels.
type controlFields struct {
	UUID          json.RawMessage `json:"uuid"`
	Error         json.RawMessage `json:"error"`
	Status        json.RawMessage `json:"status"`
	WSStatus      json.RawMessage `json:"wsStatus"`
	Configuration json.RawMessage `json:"configuration"`
	Config        json.RawMessage `json:"config"`
}

// Classify parses raw frame text and tags it.
//
// A non-empty uuid always sets Identifier. Then error wins over status; a
// frame with neither and no uuid is an Entity. A frame carrying only a uuid is
// KindIdentifier. Valid JSON that is not an object is an Entity.
func Classify(raw []byte) (Inbound, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return Inbound{}, errors.Wrap(ErrMalformedFrame, "invalid json")
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return Inbound{}, errors.Wrap(ErrMalformedFrame, "null frame")
	}
	if trimmed[0] != '{' {
		return Inbound{Kind: KindEntity, Payload: json.RawMessage(trimmed)}, nil
	}

	var f controlFields
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return Inbound{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}

	in := Inbound{Identifier: textField(f.UUID)}

	status := textField(f.Status)
	if status == "" {
		status = textField(f.WSStatus)
	}
	cfg := f.Configuration
	if isAbsent(cfg) {
		cfg = f.Config
	}

	switch {
	case textField(f.Error) != "":
		in.Kind = KindError
		in.Error = textField(f.Error)
	case status != "":
		in.Kind = KindStatus
		in.Status = status
		if !isAbsent(cfg) {
			in.Configuration = cfg
		}
	case in.Identifier != "":
		in.Kind = KindIdentifier
		if !isAbsent(cfg) {
			in.Configuration = cfg
		}
	default:
		in.Kind = KindEntity
		in.Payload = json.RawMessage(trimmed)
	}
	return in, nil
}

// textField returns the text of a control field, or "" when the field is
// absent, null, empty, false or zero. Values that are not strings are
// rendered as compact JSON so they still select their tag.
func textField(raw json.RawMessage) string {
	if isAbsent(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("false")) {
		return ""
	}
	var n json.Number
	if err := unmarshalNumber(trimmed, &n); err == nil {
		if f, err := n.Float64(); err == nil && f == 0 {
			return ""
		}
		return n.String()
	}
	var out bytes.Buffer
	if err := json.Compact(&out, trimmed); err != nil {
		return string(trimmed)
	}
	return out.String()
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func unmarshalNumber(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
