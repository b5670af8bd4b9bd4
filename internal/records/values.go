package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"eadash.io/internal/errs"
	"eadash.io/internal/model"
)

// Draft is a decoded create payload.
type Draft struct {
	// ID is empty when the server should assign one.
	ID string
	// Version is only honoured when loading a seed document.
	Version int
	Fields  map[string]any
}

// Precondition is the optional expected version of a conditional update.
type Precondition struct {
	Version int
	Set     bool
}

// ParsePrecondition reads an If-Match header value. An empty value means no
// precondition; a quoted entity tag such as "3" is accepted as well.
func ParsePrecondition(header string) (Precondition, error) {
	v := strings.TrimSpace(header)
	if v == "" {
		return Precondition{}, nil
	}
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = v[1 : len(v)-1]
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return Precondition{}, fmt.Errorf("%w: precondition must be an integer version", errs.ErrInvalidInput)
	}
	return Precondition{Version: n, Set: true}, nil
}

// DecodePatch turns a JSON object into a Patch. Keys that are not columns of
// the family are ignored; null clears a column unless it is required.
func DecodePatch(s *model.Schema, body []byte) (model.Patch, error) {
	var p model.Patch
	obj, err := decodeObject(body)
	if err != nil {
		return p, err
	}
	for _, key := range sortedKeys(obj) {
		col, ok := s.Column(key)
		if !ok {
			continue
		}
		v, err := decodeValue(col, obj[key])
		if err != nil {
			return model.Patch{}, err
		}
		if v == nil {
			if col.Required {
				return model.Patch{}, fmt.Errorf("%w: %s cannot be null", errs.ErrInvalidInput, col.Name)
			}
			p.Clear(col.Name)
			continue
		}
		p.Set(col.Name, v)
	}
	return p, nil
}

// DecodeCreate turns a JSON object into a Draft carrying every column of the
// family; absent columns are null.
func DecodeCreate(s *model.Schema, body []byte) (Draft, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return Draft{}, err
	}
	return draftFromObject(s, obj, false)
}

func draftFromObject(s *model.Schema, obj map[string]json.RawMessage, withVersion bool) (Draft, error) {
	d := Draft{Fields: make(map[string]any, len(s.Columns))}
	for _, col := range s.Columns {
		var v any
		if raw, ok := obj[col.Name]; ok {
			decoded, err := decodeValue(col, raw)
			if err != nil {
				return Draft{}, err
			}
			v = decoded
		}
		if v == nil && col.Required {
			return Draft{}, fmt.Errorf("%w: %s is required", errs.ErrInvalidInput, col.Name)
		}
		d.Fields[col.Name] = v
	}
	if raw, ok := obj["id"]; ok && !isNull(raw) {
		id, err := decodeID(s, raw)
		if err != nil {
			return Draft{}, err
		}
		d.ID = id
	}
	if raw, ok := obj["version"]; ok && withVersion && s.Versioned && !isNull(raw) {
		n, err := decodeInt(raw)
		if err != nil || n < 1 {
			return Draft{}, fmt.Errorf("%w: version must be a positive integer", errs.ErrInvalidInput)
		}
		d.Version = int(n)
	}
	return d, nil
}

// ParseFilters extracts equality filters for the family's filterable columns
// from query parameters. Other parameters are ignored.
func ParseFilters(s *model.Schema, q url.Values) (map[string]any, error) {
	filters := make(map[string]any)
	for _, col := range s.Columns {
		if !col.Filter {
			continue
		}
		raw := strings.TrimSpace(q.Get(col.Name))
		if raw == "" {
			continue
		}
		switch col.Kind {
		case model.KindInt:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s must be an integer", errs.ErrInvalidInput, col.Name)
			}
			filters[col.Name] = n
		case model.KindText:
			filters[col.Name] = raw
		default:
			return nil, fmt.Errorf("%w: %s cannot be filtered", errs.ErrInvalidInput, col.Name)
		}
	}
	return filters, nil
}

func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", errs.ErrInvalidInput)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", errs.ErrInvalidInput)
	}
	return obj, nil
}

func decodeID(s *model.Schema, raw json.RawMessage) (string, error) {
	if s.IDStrategy == model.IDSerial {
		n, err := decodeInt(raw)
		if err != nil || n < 1 {
			return "", fmt.Errorf("%w: id must be a positive integer", errs.ErrInvalidInput)
		}
		return strconv.FormatInt(n, 10), nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: id must be a non-empty string", errs.ErrInvalidInput)
	}
	return strings.TrimSpace(id), nil
}

// decodeValue converts one JSON value to the Go representation used by the
// stores: string, int64, float64, bool or json.RawMessage. JSON null is nil.
func decodeValue(col model.Column, raw json.RawMessage) (any, error) {
	if isNull(raw) {
		return nil, nil
	}
	bad := func() error {
		return fmt.Errorf("%w: %s must be of type %s", errs.ErrInvalidInput, col.Name, col.Kind)
	}
	switch col.Kind {
	case model.KindText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, bad()
		}
		return s, nil
	case model.KindInt:
		n, err := decodeInt(raw)
		if err != nil {
			return nil, bad()
		}
		return n, nil
	case model.KindFloat:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, bad()
		}
		return f, nil
	case model.KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, bad()
		}
		return b, nil
	case model.KindJSON:
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, bad()
		}
		return json.RawMessage(buf.Bytes()), nil
	}
	return nil, fmt.Errorf("column %s has unknown kind %d", col.Name, col.Kind)
}

func decodeInt(raw json.RawMessage) (int64, error) {
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return 0, err
	}
	if n, err := num.Int64(); err == nil {
		return n, nil
	}
	f, err := num.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, fmt.Errorf("%s is not an integer", num)
	}
	return int64(f), nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func sortedKeys(obj map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
