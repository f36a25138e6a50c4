package envelope

import "reflect"

// materializeDepth bounds the validator's walk. Anything deeper is accepted
// unchecked; response values in practice are a handful of levels deep.
const materializeDepth = 16

// Materialized reports whether v is plain data all the way down: no channels
// and no function values anywhere in the object graph, to a bounded depth.
// Such values serialize cleanly and carry no deferred computation.
func Materialized(v interface{}) bool {
	return materialized(reflect.ValueOf(v), 0)
}

func materialized(v reflect.Value, depth int) bool {
	if depth > materializeDepth {
		return true
	}
	switch v.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Chan, reflect.Func:
		return false
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return true
		}
		return materialized(v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if !materialized(v.Index(i), depth+1) {
				return false
			}
		}
		return true
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if !materialized(iter.Key(), depth+1) || !materialized(iter.Value(), depth+1) {
				return false
			}
		}
		return true
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !materialized(v.Field(i), depth+1) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
