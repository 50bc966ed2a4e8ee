package dmval

import (
	"fmt"
	"net/url"
	"strings"
)

// URL is a parsed replica/chunk location: scheme://host/path?query, with
// the query decoded into an Extensible bag so token and dpmtoken params
// round-trip through the same type chunks carry them in (§4.8).
type URL struct {
	Scheme string
	Host   string
	Path   string
	Query  Extensible
}

// ParseURL parses an rfn/pfn of the form "scheme://host/path?k=v&...",
// or a bare "host:/path" shorthand used by simple disk-pool replica file
// names (e.g. "h1:/pool/a/f" in the S1 scenario of spec §8).
func ParseURL(raw string) (URL, error) {
	if !strings.Contains(raw, "://") {
		if i := strings.Index(raw, ":"); i >= 0 && strings.HasPrefix(raw[i+1:], "/") {
			return URL{Scheme: "", Host: raw[:i], Path: raw[i+1:], Query: New()}, nil
		}
		return URL{Path: raw, Query: New()}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, fmt.Errorf("parse url %q: %w", raw, err)
	}
	q := New()
	for k, vs := range u.Query() {
		if len(vs) == 1 {
			q[k] = vs[0]
		} else {
			q[k] = vs
		}
	}
	return URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path, Query: q}, nil
}

// String renders the URL back to wire form.
func (u URL) String() string {
	if u.Scheme == "" && u.Host != "" {
		return fmt.Sprintf("%s:%s", u.Host, u.Path)
	}
	var sb strings.Builder
	if u.Scheme != "" {
		sb.WriteString(u.Scheme)
		sb.WriteString("://")
	}
	sb.WriteString(u.Host)
	sb.WriteString(u.Path)
	if len(u.Query) > 0 {
		v := url.Values{}
		for k := range u.Query {
			v.Set(k, u.Query.GetString(k, ""))
		}
		sb.WriteString("?")
		sb.WriteString(v.Encode())
	}
	return sb.String()
}

// WithQuery returns a copy of u with key=value added/overwritten in the
// query bag, used to stamp a freshly minted token onto a chunk's URL.
func (u URL) WithQuery(key string, value interface{}) URL {
	out := u
	out.Query = u.Query.Clone()
	out.Query.Set(key, value)
	return out
}

// Join concatenates URL path components, normalizing duplicate and
// trailing slashes the way the catalog's path splitter expects.
func Join(elems ...string) string {
	var parts []string
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e != "" {
			parts = append(parts, e)
		}
	}
	return "/" + strings.Join(parts, "/")
}
