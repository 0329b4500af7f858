package odoo

import (
	"github.com/rotisserie/eris"
)

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func toInt64s(v any) ([]int64, error) {
	items, ok := v.([]any)
	if !ok {
		if v == nil {
			return nil, nil
		}
		return nil, eris.Errorf("odoo: expected id list, got %T", v)
	}
	out := make([]int64, 0, len(items))
	for _, it := range items {
		id, ok := toInt64(it)
		if !ok {
			return nil, eris.Errorf("odoo: expected integer id, got %T", it)
		}
		out = append(out, id)
	}
	return out, nil
}

func toRecords(v any) ([]Record, error) {
	items, ok := v.([]any)
	if !ok {
		if v == nil {
			return nil, nil
		}
		return nil, eris.Errorf("odoo: expected record list, got %T", v)
	}
	out := make([]Record, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, eris.Errorf("odoo: expected record, got %T", it)
		}
		out = append(out, Record(m))
	}
	return out, nil
}

// ID returns the integer id of a record field. Many2one fields arrive as
// [id, display_name] pairs and false when empty.
func (r Record) ID(field string) (int64, bool) {
	switch v := r[field].(type) {
	case []any:
		if len(v) > 0 {
			return toInt64(v[0])
		}
		return 0, false
	default:
		return toInt64(v)
	}
}

// String returns a text field, treating Odoo's false as empty.
func (r Record) String(field string) string {
	if s, ok := r[field].(string); ok {
		return s
	}
	return ""
}

// Float returns a numeric field. Odoo sends floats as doubles and whole
// numbers as ints.
func (r Record) Float(field string) (float64, bool) {
	switch v := r[field].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	}
	return 0, false
}
