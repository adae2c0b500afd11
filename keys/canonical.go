package keys

import (
	"encoding"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Canonicalization reduces arbitrary Go values to a small closed set of
// shapes (nil, bool, string, int64, uint64, float64, []any,
// map[string]any) that serialize deterministically. Cycles are detected by
// object identity and replaced with a finite marker, and recursion depth is
// capped, so the walk always terminates and never panics.

func cycleMarker(t reflect.Type) map[string]any {
	return map[string]any{"circular_reference": t.String()}
}

var depthMarker = map[string]any{"max_depth_reached": true}

func (d *Deriver) canonicalize(v any) any {
	return d.walk(reflect.ValueOf(v), 0, make(map[uintptr]bool))
}

func (d *Deriver) walk(v reflect.Value, depth int, visiting map[uintptr]bool) any {
	if !v.IsValid() {
		return nil
	}
	if depth > d.maxDepth {
		return depthMarker
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		// Unwrapping an interface is free; it adds no structural depth.
		return d.walk(v.Elem(), depth, visiting)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		p := v.Pointer()
		if visiting[p] {
			return cycleMarker(v.Type())
		}
		visiting[p] = true
		out := d.walk(v.Elem(), depth+1, visiting)
		delete(visiting, p)
		return out

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		p := v.Pointer()
		if visiting[p] {
			return cycleMarker(v.Type())
		}
		visiting[p] = true
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key())] = d.walk(iter.Value(), depth+1, visiting)
		}
		delete(visiting, p)
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		p := v.Pointer()
		if visiting[p] {
			return cycleMarker(v.Type())
		}
		visiting[p] = true
		out := d.walkSeq(v, depth, visiting)
		delete(visiting, p)
		return out

	case reflect.Array:
		return d.walkSeq(v, depth, visiting)

	case reflect.Struct:
		if s, ok := marshalOpaque(v); ok {
			return s
		}
		t := v.Type()
		out := make(map[string]any, t.NumField())
		exported := 0
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			exported++
			out[f.Name] = d.walk(v.Field(i), depth+1, visiting)
		}
		if exported == 0 {
			// A struct holding only unexported fields would canonicalize to
			// an empty map and every value of it would share one key.
			if v.CanInterface() {
				return fmt.Sprintf("%#v", v.Interface())
			}
			return "<" + v.Type().String() + ">"
		}
		return out

	case reflect.Bool:
		return v.Bool()
	case reflect.String:
		return v.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v.Complex())
	default:
		// Chan, Func, UnsafePointer: no portable serialization; degrade to
		// the type name rather than failing.
		return "<" + v.Type().String() + ">"
	}
}

// marshalOpaque serializes struct values whose identity lives in unexported
// state. time.Time is the canonical case: its exported surface is empty, so
// walking fields alone would derive one key for every instant. Types that
// declare their own text form are taken at their word.
func marshalOpaque(v reflect.Value) (string, bool) {
	if !v.CanInterface() {
		return "", false
	}
	switch m := v.Interface().(type) {
	case encoding.TextMarshaler:
		if b, err := m.MarshalText(); err == nil {
			return string(b), true
		}
	case fmt.Stringer:
		return m.String(), true
	}
	return "", false
}

func (d *Deriver) walkSeq(v reflect.Value, depth int, visiting map[uintptr]bool) []any {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = d.walk(v.Index(i), depth+1, visiting)
	}
	return out
}

// writeCanonical serializes a canonicalized value. Map keys are sorted, so
// the output is byte-identical for structurally equal inputs regardless of
// map iteration order.
func writeCanonical(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(strconv.FormatBool(val))
	case string:
		sb.WriteString(strconv.Quote(val))
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		sb.WriteString(strconv.FormatUint(val, 10))
	case float64:
		sb.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case []any:
		sb.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, e)
		}
		sb.WriteByte(']')
	case map[string]any:
		names := make([]string, 0, len(val))
		for k := range val {
			names = append(names, k)
		}
		sort.Strings(names)
		sb.WriteByte('{')
		for i, k := range names {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			writeCanonical(sb, val[k])
		}
		sb.WriteByte('}')
	default:
		// walk never produces other shapes; keep the writer total anyway.
		sb.WriteString(strconv.Quote(fmt.Sprint(val)))
	}
}
