// Package prefs parses per-client preference submissions of the form
// "{client}_{option}" where option is format, bitrate or delete.
package prefs

import (
	"sort"
	"strconv"
	"strings"
)

// Options recognised after the last underscore.
const (
	OptFormat  = "format"
	OptBitrate = "bitrate"
	OptDelete  = "delete"
)

// Change is the parsed intent for one client.
type Change struct {
	Client string
	Delete bool

	// HasFormat is set when a format field was submitted; Format nil clears it.
	HasFormat bool
	Format    *string

	// HasBitrate is set when a valid or empty bitrate field was submitted; Bitrate nil clears it.
	HasBitrate bool
	Bitrate    *int
}

// Truthy reports whether a form value means "checked".
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "checked", "selected", "1":
		return true
	}
	return false
}

// splitKey cuts key at its last underscore. Empty client or option means no match.
func splitKey(key string) (client, opt string, ok bool) {
	i := strings.LastIndex(key, "_")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// Parse groups submitted fields by client. Unknown options, malformed keys and
// invalid bitrates are dropped silently. The result is sorted by client name.
func Parse(fields map[string]string) []Change {
	byClient := map[string]*Change{}
	get := func(client string) *Change {
		c, ok := byClient[client]
		if !ok {
			c = &Change{Client: client}
			byClient[client] = c
		}
		return c
	}

	for key, raw := range fields {
		client, opt, ok := splitKey(key)
		if !ok {
			continue
		}
		val := strings.TrimSpace(raw)
		switch opt {
		case OptDelete:
			if Truthy(val) {
				get(client).Delete = true
			}
		case OptFormat:
			c := get(client)
			c.HasFormat = true
			if val != "" {
				v := val
				c.Format = &v
			}
		case OptBitrate:
			if val == "" {
				c := get(client)
				c.HasBitrate, c.Bitrate = true, nil
				continue
			}
			// the column is a 32-bit integer
			n64, err := strconv.ParseInt(val, 10, 32)
			if err != nil || n64 <= 0 {
				continue
			}
			n := int(n64)
			c := get(client)
			c.HasBitrate, c.Bitrate = true, &n
		}
	}

	out := make([]Change, 0, len(byClient))
	for _, c := range byClient {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Client < out[j].Client })
	return out
}
