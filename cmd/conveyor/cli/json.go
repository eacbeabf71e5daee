// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"os"
	"reflect"
)

// WriteJSON prints value to stdout as indented JSON. A nil slice goes
// out as [], never null, so the machine-readable output of an empty
// listing still parses as a list.
func WriteJSON(value any) error {
	reflected := reflect.ValueOf(value)
	if reflected.Kind() == reflect.Slice && reflected.IsNil() {
		value = reflect.MakeSlice(reflected.Type(), 0, 0).Interface()
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
