// Package awswire turns AWS SDK output structs back into the services'
// camelCase JSON wire shape.
package awswire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

// Value converts v to generic JSON values (maps, slices, json.Number,
// strings, bools). Struct field names are lower-cased on their first letter
// and nil members dropped, which is how the services name and omit them.
// Keys of Go maps are data and stay as they are. Union interfaces are not
// expanded; callers rebuild those themselves.
func Value(v any) (any, error) {
	return convert(reflect.ValueOf(v))
}

// Object is Value for structs. SDK response metadata is removed.
func Object(v any) (map[string]any, error) {
	value, err := Value(v)
	if err != nil {
		return nil, err
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}
	delete(obj, "resultMetadata")
	return obj, nil
}

// Decode converts v to its wire shape and unmarshals that into out
func Decode(v any, out any) error {
	value, err := Value(v)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

var jsonMarshaler = reflect.TypeFor[json.Marshaler]()

func convert(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	if k := rv.Kind(); k == reflect.Pointer || k == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		return convert(rv.Elem())
	}
	if rv.Type().Implements(jsonMarshaler) {
		// e.g. time.Time
		return scalar(rv.Interface())
	}

	switch rv.Kind() {
	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			value, err := convert(rv.Field(i))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", field.Name, err)
			}
			if value == nil {
				continue
			}
			out[lowerFirst(field.Name)] = value
		}
		return out, nil

	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return scalar(rv.Interface())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			value, err := convert(iter.Value())
			if err != nil {
				return nil, err
			}
			if value == nil {
				continue
			}
			out[iter.Key().String()] = value
		}
		return out, nil

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return scalar(rv.Interface()) // base64, as encoding/json writes it
		}
		out := make([]any, rv.Len())
		for i := range out {
			value, err := convert(rv.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = value
		}
		return out, nil

	default:
		return scalar(rv.Interface())
	}
}

// scalar encodes v with encoding/json and decodes it back generically
func scalar(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return generic, nil
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsLower(r) {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
