package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindNull
	KindString
	KindNumber
	KindBool
	KindList
	KindObject
)

// TypeName is the name used by the typeof comparator.
func (k Kind) TypeName() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindList:
		return "array"
	case KindObject:
		return "object"
	default:
		return "undefined"
	}
}

func (k Kind) String() string {
	return k.TypeName()
}

// Value is a tagged union over the scalars, lists and objects a record can hold.
// The zero Value is Absent, which never compares equal to a stored value.
//
// Objects share their backing map between copies of the same Value; use Clone
// before handing a stored value to code that may mutate it.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
	obj  map[string]Value
}

// Absent is returned by lookups that found nothing.
var Absent = Value{}

func Null() Value { return Value{kind: KindNull} }
func String(s string) Value { return Value{kind: KindString, str: s} }
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Int(i int) Value { return Value{kind: KindNumber, num: float64(i)} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func List(items ...Value) Value { return Value{kind: KindList, list: append([]Value(nil), items...)} }
func NewObject() Value { return Value{kind: KindObject, obj: map[string]Value{}} }

// Object wraps fields without copying them.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }
func (v Value) IsObject() bool { return v.kind == KindObject }

func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) Num() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// IntValue reports the value as an int when it is an integral number.
func (v Value) IntValue() (int, bool) {
	if v.kind != KindNumber || v.num != math.Trunc(v.num) || math.IsInf(v.num, 0) {
		return 0, false
	}
	return int(v.num), true
}

func (v Value) BoolValue() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Truthy follows the loose truthiness the UI layer expects for flags.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindString:
		return v.str != ""
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindList, KindObject:
		return true
	default:
		return false
	}
}

func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Field returns the named member of an object, or Absent.
func (v Value) Field(name string) Value {
	if v.kind != KindObject {
		return Absent
	}
	field, ok := v.obj[name]
	if !ok {
		return Absent
	}
	return field
}

// FieldNames lists object members in sorted order.
func (v Value) FieldNames() []string {
	if v.kind != KindObject {
		return nil
	}
	names := make([]string, 0, len(v.obj))
	for name := range v.obj {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindObject:
		return len(v.obj)
	case KindString:
		return len(v.str)
	default:
		return 0
	}
}

// With sets a member on an object in place and returns it. Non-objects are
// returned unchanged.
func (v Value) With(name string, field Value) Value {
	if v.kind != KindObject {
		return v
	}
	v.obj[name] = field
	return v
}

// Without deletes a member from an object in place.
func (v Value) Without(name string) Value {
	if v.kind == KindObject {
		delete(v.obj, name)
	}
	return v
}

// Text renders scalars the way pattern matching and loose equality see them.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNull:
		return "null"
	case KindAbsent:
		return "undefined"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func (v Value) String() string {
	return v.Text()
}

func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Clone()
		}
		return Value{kind: KindList, list: items}
	case KindObject:
		fields := make(map[string]Value, len(v.obj))
		for name, field := range v.obj {
			fields[name] = field.Clone()
		}
		return Value{kind: KindObject, obj: fields}
	default:
		return v
	}
}

func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == other.str
	case KindNumber:
		return v.num == other.num
	case KindBool:
		return v.b == other.b
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
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for name, field := range v.obj {
			otherField, ok := other.obj[name]
			if !ok || !field.Equal(otherField) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Interface converts the value to plain Go types (map[string]any, []any,
// float64, string, bool, nil).
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for name, field := range v.obj {
			out[name] = field.Interface()
		}
		return out
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindAbsent, KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return []byte(strconv.FormatFloat(v.num, 'f', -1, 64)), nil
	case KindBool:
		return []byte(strconv.FormatBool(v.b)), nil
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, name := range v.FieldNames() {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(name)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			data, err := v.obj[name].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseJSON decodes a JSON document into a Value.
func ParseJSON(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Absent, err
	}
	return v, nil
}

// FromAny converts plain Go data into a Value.
func FromAny(raw any) (Value, error) {
	switch typed := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return typed, nil
	case string:
		return String(typed), nil
	case bool:
		return Bool(typed), nil
	case int:
		return Int(typed), nil
	case int32:
		return Number(float64(typed)), nil
	case int64:
		return Number(float64(typed)), nil
	case float32:
		return Number(float64(typed)), nil
	case float64:
		return Number(typed), nil
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return Absent, fmt.Errorf("%w: number %q", ErrInvalidInput, typed.String())
		}
		return Number(f), nil
	case []any:
		items := make([]Value, len(typed))
		for i, item := range typed {
			converted, err := FromAny(item)
			if err != nil {
				return Absent, err
			}
			items[i] = converted
		}
		return Value{kind: KindList, list: items}, nil
	case []string:
		items := make([]Value, len(typed))
		for i, item := range typed {
			items[i] = String(item)
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(typed))
		for name, field := range typed {
			converted, err := FromAny(field)
			if err != nil {
				return Absent, err
			}
			fields[name] = converted
		}
		return Object(fields), nil
	case map[string]string:
		fields := make(map[string]Value, len(typed))
		for name, field := range typed {
			fields[name] = String(field)
		}
		return Object(fields), nil
	case map[string]Value:
		return Object(typed), nil
	default:
		return Absent, fmt.Errorf("%w: unsupported value type %T", ErrInvalidInput, raw)
	}
}

// Encode converts a JSON-tagged struct into a Value.
func Encode(src any) (Value, error) {
	data, err := json.Marshal(src)
	if err != nil {
		return Absent, err
	}
	return ParseJSON(data)
}

// Decode fills a JSON-tagged struct from the value.
func (v Value) Decode(dst any) error {
	data, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
