// Package template renders "{name}" placeholders in queries, URLs and
// payloads. "{{" and "}}" produce literal braces.
package template

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"mergeflow/internal/apperr"
)

// Params maps placeholder names to their textual values.
type Params map[string]string

// Merge returns a new Params holding every layer, later layers winning.
func Merge(layers ...Params) Params {
	out := Params{}
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// Names returns the sorted placeholder names referenced by s.
func Names(s string) ([]string, error) {
	seen := map[string]struct{}{}
	if _, err := render(s, func(name string) (string, bool) {
		seen[name] = struct{}{}
		return "", true
	}); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// Render substitutes every {name} in s. A name missing from params, an
// unterminated placeholder, or a stray "}" is a template error.
func Render(s string, params Params) (string, error) {
	return render(s, func(name string) (string, bool) {
		v, ok := params[name]
		return v, ok
	})
}

func render(s string, lookup func(string) (string, bool)) (string, error) {
	if !strings.ContainsAny(s, "{}") {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '{':
			if i+1 < len(s) && s[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				return "", apperr.Template("template.render", "unterminated placeholder at offset %d", i)
			}
			name := strings.TrimSpace(s[i+1 : i+1+end])
			if name == "" || strings.ContainsAny(name, "{ \t\n") {
				return "", apperr.Template("template.render", "invalid placeholder %q at offset %d", s[i:i+2+end], i)
			}
			v, ok := lookup(name)
			if !ok {
				return "", apperr.Template("template.render", "undefined parameter {%s}", name)
			}
			b.WriteString(v)
			i += end + 1
		case '}':
			if i+1 < len(s) && s[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", apperr.Template("template.render", "single '}' at offset %d", i)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// Stringify renders a parameter value the way iterate rows are bound: nil is
// empty, times use a SQL literal layout, everything else uses its default
// textual form.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format("2006-01-02 15:04:05.999999")
	default:
		return fmt.Sprint(t)
	}
}
