package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a JSON-representable attribute value. The zero Value is null.
type Value struct {
	kind ValueKind
	str  string
	num  int64
	flt  float64
	flag bool
	list []Value
	dict map[string]Value
}

func Null() Value {
	return Value{}
}

func String(s string) Value {
	return Value{kind: KindString, str: s}
}

func Int(n int64) Value {
	return Value{kind: KindInt, num: n}
}

func Float(f float64) Value {
	return Value{kind: KindFloat, flt: f}
}

func Bool(b bool) Value {
	return Value{kind: KindBool, flag: b}
}

func List(items ...Value) Value {
	return Value{kind: KindList, list: items}
}

func Map(m map[string]Value) Value {
	return Value{kind: KindMap, dict: m}
}

func (v Value) Kind() ValueKind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

func (v Value) Items() []Value {
	return v.list
}

func (v Value) Fields() map[string]Value {
	return v.dict
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsInt converts numeric and numeric-string values.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.num, true
	case KindFloat:
		return int64(v.flt), true
	case KindString:
		s := strings.TrimSpace(v.str)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
	case KindList:
		if len(v.list) > 0 {
			return v.list[0].AsInt()
		}
	}
	return 0, false
}

// AsFloat converts numeric and numeric-string values.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.num), true
	case KindFloat:
		return v.flt, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case KindList:
		if len(v.list) > 0 {
			return v.list[0].AsFloat()
		}
	}
	return 0, false
}

// Text renders the value as plain text. Lists are joined with "\" like
// DICOM multi-valued strings, maps render as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindList:
		parts := make([]string, 0, len(v.list))
		for _, item := range v.list {
			if item.kind == KindMap || item.kind == KindList {
				raw, _ := json.Marshal(item)
				parts = append(parts, string(raw))
				continue
			}
			parts = append(parts, item.Text())
		}
		return strings.Join(parts, `\`)
	case KindMap:
		raw, _ := json.Marshal(v)
		return string(raw)
	default:
		return ""
	}
}

func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == other.str
	case KindInt:
		return v.num == other.num
	case KindFloat:
		return v.flt == other.flt
	case KindBool:
		return v.flag == other.flag
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.dict) != len(other.dict) {
			return false
		}
		for k, item := range v.dict {
			o, ok := other.dict[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindInt:
		return []byte(strconv.FormatInt(v.num, 10)), nil
	case KindFloat:
		if math.IsNaN(v.flt) || math.IsInf(v.flt, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.flt)
	case KindBool:
		return json.Marshal(v.flag)
	case KindList:
		items := v.list
		if items == nil {
			items = []Value{}
		}
		return json.Marshal(items)
	case KindMap:
		keys := make([]string, 0, len(v.dict))
		for k := range v.dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			rawKey, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			rawVal, err := v.dict[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(rawKey)
			buf.WriteByte(':')
			buf.Write(rawVal)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("marshal value: unknown kind %d", v.kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	*v = FromAny(raw)
	return nil
}

// FromAny converts decoded JSON (or plain Go scalars) into a Value.
// Unsupported types fall back to their fmt rendering.
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case int32:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return Int(n)
		}
		if f, err := t.Float64(); err == nil {
			return Float(f)
		}
		return String(t.String())
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, FromAny(item))
		}
		return List(items...)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromAny(item)
		}
		return Map(m)
	default:
		return String(fmt.Sprint(t))
	}
}
