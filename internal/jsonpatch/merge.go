// Package jsonpatch merges partial JSON object payloads.
package jsonpatch

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrNotObject = errors.New("payload is not a JSON object")

// Merge overlays the top-level fields of patch onto base. Fields absent from
// patch keep their base value; nested objects are replaced, not merged.
func Merge(base, patch string) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = "{}"
	}
	if strings.TrimSpace(patch) == "" {
		patch = "{}"
	}
	if !isObject(base) || !isObject(patch) {
		return "", ErrNotObject
	}

	merged := base
	var setErr error
	gjson.Parse(patch).ForEach(func(key, value gjson.Result) bool {
		merged, setErr = sjson.SetRaw(merged, escapePath(key.String()), value.Raw)
		return setErr == nil
	})
	if setErr != nil {
		return "", setErr
	}
	return merged, nil
}

// Field returns the raw string form of a top-level field, or "" when absent.
func Field(payload, key string) string {
	value := gjson.Get(payload, escapePath(key))
	if !value.Exists() {
		return ""
	}
	return value.String()
}

func isObject(payload string) bool {
	if !gjson.Valid(payload) {
		return false
	}
	return gjson.Parse(payload).IsObject()
}

var pathEscaper = strings.NewReplacer(`\`, `\\`, ".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`, ":", `\:`)

func escapePath(key string) string {
	return pathEscaper.Replace(key)
}
