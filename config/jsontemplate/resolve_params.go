package jsontemplate

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	durationType        = reflect.TypeOf(time.Duration(0))
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// Resolve replaces all `{ "$param": "param_name" }` references in the JSON with
// values from params and returns new JSON data. Param values are always
// provided as strings and then converted to specific JSON types according to
// the Go type of the matching field in target, which is the value the JSON
// will later be decoded into.
func Resolve(data []byte, target any, params *Params) ([]byte, error) {
	var jsonObj any
	if err := json.Unmarshal(data, &jsonObj); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	processedObj, err := processNode(jsonObj, params, reflect.TypeOf(target), "")
	if err != nil {
		return nil, fmt.Errorf("parameter resolution failed: %w", err)
	}

	return json.Marshal(processedObj)
}

// processNode traverses the JSON structure alongside the Go type it decodes
// into, replacing parameter references.
func processNode(node any, params *Params, t reflect.Type, path string) (any, error) {
	t = deref(t)

	switch nodeValue := node.(type) {

	// JSON object
	case map[string]any:
		// Check if this is a $param reference node
		if paramName, isParam := nodeValue["$param"]; isParam && len(nodeValue) == 1 {
			// Make sure the name value is a string
			paramNameStr, isNameString := paramName.(string)
			if !isNameString {
				return nil, fmt.Errorf("param name must be a string")
			}

			// Lookup the param value
			paramValue, exists := params.Get(paramNameStr)
			if !exists {
				return nil, fmt.Errorf("missing parameter %q", paramNameStr)
			}

			if t == nil {
				return nil, fmt.Errorf("field %q not found", path)
			}

			// No functionality to substitute params for arrays or objects
			if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
				return nil, fmt.Errorf("cannot use $param for repeated (array) field %q", path)
			}

			// Convert the string value to the appropriate type
			return toJSONType(paramValue, t)
		}

		// Regular object (no $param), process each field
		result := make(map[string]any)
		for k, v := range nodeValue {
			// Update the path for nested traversal
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}

			// Process the child node
			processed, err := processNode(v, params, childType(t, k), childPath)
			if err != nil {
				return nil, err
			}
			result[k] = processed
		}
		return result, nil

	// JSON array, process each item
	case []any:
		var elem reflect.Type
		if t != nil && (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) {
			elem = t.Elem()
		}
		result := make([]any, len(nodeValue))
		for i, item := range nodeValue {
			processed, err := processNode(item, params, elem, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			result[i] = processed
		}
		return result, nil

	// Primitive value, done
	default:
		return nodeValue, nil
	}
}

// childType returns the type of the struct field or map value stored under
// key, or nil if t has none.
func childType(t reflect.Type, key string) reflect.Type {
	if t == nil {
		return nil
	}

	switch t.Kind() {
	case reflect.Map:
		return t.Elem()
	case reflect.Struct:
		for i := range t.NumField() {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				continue
			}
			if name == "" {
				name = field.Name
			}
			// Matches encoding/json, which ignores case for field names.
			if strings.EqualFold(name, key) {
				return field.Type
			}
		}
	}
	return nil
}

func deref(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// toJSONType converts a string value to the JSON representation of a Go type
func toJSONType(value string, t reflect.Type) (any, error) {
	if t == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, err
		}
		return int64(d), nil
	}

	// Types that decode themselves from JSON strings get the raw value
	if reflect.PointerTo(t).Implements(textUnmarshalerType) {
		return value, nil
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.ParseInt(value, 10, 64)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.ParseUint(value, 10, 64)
	case reflect.Float32, reflect.Float64:
		return strconv.ParseFloat(value, 64)
	case reflect.Bool:
		return strconv.ParseBool(value)
	case reflect.String:
		return value, nil
	default:
		return nil, fmt.Errorf("unsupported field type: %v", t)
	}
}
