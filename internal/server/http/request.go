package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/and161185/sonickeeper/internal/errs"
	"github.com/and161185/sonickeeper/internal/prefs"
)

var errBadBody = &errs.ValidationError{Field: "body", Message: "Malformed request body"}

// fields reads a flat JSON object or a urlencoded form into string values.
// Nested JSON values are ignored; booleans and numbers are stringified.
func fields(r *http.Request) (map[string]string, error) {
	out := map[string]string{}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/json" {
		if err := r.ParseForm(); err != nil {
			return nil, errBadBody
		}
		for k, vs := range r.Form {
			if len(vs) > 0 {
				out[k] = vs[0]
			}
		}
		return out, nil
	}

	var raw map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, errBadBody
	}
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case bool:
			out[k] = strconv.FormatBool(t)
		case json.Number:
			out[k] = t.String()
		case nil:
			out[k] = ""
		}
	}
	for k, vs := range r.URL.Query() {
		if _, ok := out[k]; !ok && len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out, nil
}

// optBool returns nil when key is absent.
func optBool(f map[string]string, key string) *bool {
	v, ok := f[key]
	if !ok {
		return nil
	}
	b := prefs.Truthy(v)
	return &b
}

// first returns the value of the first present key.
func first(f map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := f[k]; ok {
			return v
		}
	}
	return ""
}
