package handler

import (
	"reflect"
	"strings"
)

// sanitize trims the strings reachable from a decoded request body: string
// fields, []string entries (blank entries are dropped) and the fields of
// nested or embedded structs. Maps and unexported fields are left alone.
func sanitize(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return
	}
	trimValue(rv.Elem())
}

func trimValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.Struct:
		for i := range v.NumField() {
			trimValue(v.Field(i))
		}
	case reflect.Pointer:
		if !v.IsNil() && v.Elem().Kind() == reflect.Struct {
			trimValue(v.Elem())
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(strings.TrimSpace(v.String()))
		}
	case reflect.Slice:
		if !v.CanSet() {
			return
		}
		switch v.Type().Elem().Kind() {
		case reflect.String:
			v.Set(compactStrings(v))
		case reflect.Struct:
			for i := range v.Len() {
				trimValue(v.Index(i))
			}
		}
	}
}

func compactStrings(v reflect.Value) reflect.Value {
	out := reflect.MakeSlice(v.Type(), 0, v.Len())
	for i := range v.Len() {
		s := strings.TrimSpace(v.Index(i).String())
		if s == "" {
			continue
		}
		out = reflect.Append(out, reflect.ValueOf(s).Convert(v.Type().Elem()))
	}
	return out
}
