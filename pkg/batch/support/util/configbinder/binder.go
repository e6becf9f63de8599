// Package configbinder binds loosely typed property maps onto configuration structs.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// BindProperties decodes properties into target, a pointer to a struct.
// Fields are matched by their `yaml` tag, and string values are converted
// to the field type where possible ("10" binds to an int field).
func BindProperties(properties map[string]interface{}, target interface{}) error {
	if len(properties) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(properties); err != nil {
		t := reflect.TypeOf(target)
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		return fmt.Errorf("failed to bind properties to %s: %w", t.Name(), err)
	}
	return nil
}

// BindStringProperties is BindProperties for map[string]string inputs such as CLI flags.
func BindStringProperties(properties map[string]string, target interface{}) error {
	m := make(map[string]interface{}, len(properties))
	for k, v := range properties {
		m[k] = v
	}
	return BindProperties(m, target)
}
