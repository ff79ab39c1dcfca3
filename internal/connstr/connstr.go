// Package connstr builds and parses PostgreSQL connection strings, both in
// the key=value form and the postgres:// URI form. Grounded on
// internal/pg/pg.go's ConnString escaper from the teacher, extended with a
// parser so build and parse round-trip.
package connstr

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Params is an unordered bag of libpq-style key=value connection
// parameters, e.g. {"host": "...", "port": "...", "user": "...", ...}.
type Params map[string]string

// escaper mirrors pg.go's ConnString: single quotes and backslashes inside
// a value are backslash-escaped, values are single-quoted as a whole.
var escaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// Build returns a key=value connection string. Keys are emitted in sorted
// order so the result is reproducible and comparable, same as the teacher's
// ConnString.
func Build(p Params) string {
	var kvs []string
	for k, v := range p {
		if v == "" {
			continue
		}
		kvs = append(kvs, fmt.Sprintf("%s='%s'", k, escaper.Replace(v)))
	}
	sort.Strings(kvs)
	return strings.Join(kvs, " ")
}

// BuildURI returns a postgres:// URI for p. host/port/user/dbname become
// the authority and path; everything else becomes a query parameter.
func BuildURI(p Params) string {
	u := url.URL{Scheme: "postgres"}
	host := p["host"]
	if port := p["port"]; port != "" {
		host = host + ":" + port
	}
	u.Host = host
	if user := p["user"]; user != "" {
		if pass, ok := p["password"]; ok {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	if db := p["dbname"]; db != "" {
		u.Path = "/" + db
	}
	q := url.Values{}
	for k, v := range p {
		switch k {
		case "host", "port", "user", "password", "dbname":
			continue
		default:
			if v != "" {
				q.Set(k, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Parse accepts either a postgres:// URI or a key=value string and returns
// the parsed Params. This is the inverse of Build/BuildURI, including for
// values containing ' and \.
func Parse(s string) (Params, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://") {
		return parseURI(s)
	}
	return parseKV(s)
}

func parseURI(s string) (Params, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing connection uri %q", s)
	}
	p := Params{}
	host := u.Hostname()
	port := u.Port()
	if host != "" {
		p["host"] = host
	}
	if port != "" {
		p["port"] = port
	}
	if u.User != nil {
		p["user"] = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			p["password"] = pass
		}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		p["dbname"] = db
	}
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			p[k] = vs[0]
		}
	}
	return p, nil
}

// parseKV parses a libpq key=value connstring, reversing the exact escaping
// Build applies: a value may be bare, or single-quoted with \' and \\
// escapes inside the quotes.
func parseKV(s string) (Params, error) {
	p := Params{}
	i := 0
	n := len(s)
	for i < n {
		for i < n && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= n {
			break
		}
		keyStart := i
		for i < n && s[i] != '=' {
			i++
		}
		if i >= n {
			return nil, errors.Errorf("missing '=' after key in connection string %q", s)
		}
		key := s[keyStart:i]
		i++ // skip '='
		var val strings.Builder
		if i < n && s[i] == '\'' {
			i++ // skip opening quote
			closed := false
			for i < n {
				switch s[i] {
				case '\\':
					if i+1 < n {
						val.WriteByte(s[i+1])
						i += 2
						continue
					}
					return nil, errors.Errorf("trailing backslash in connection string %q", s)
				case '\'':
					closed = true
					i++
				default:
					val.WriteByte(s[i])
					i++
				}
				if closed {
					break
				}
			}
			if !closed {
				return nil, errors.Errorf("unterminated quoted value in connection string %q", s)
			}
		} else {
			for i < n && s[i] != ' ' && s[i] != '\t' {
				val.WriteByte(s[i])
				i++
			}
		}
		p[key] = val.String()
	}
	return p, nil
}
