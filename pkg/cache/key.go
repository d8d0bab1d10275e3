package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every response cache key in Redis.
const KeyPrefix = "harvester:response"

// Key identifies a cached response.
type Key struct {
	// Host of the request, including the port if any.
	Host string

	// Path of the request.
	Path string

	// Query parameters. Order does not affect the key.
	Query url.Values
}

// KeyFromURL builds the key of a request URL.
func KeyFromURL(u *url.URL) Key {
	return Key{Host: u.Host, Path: u.Path, Query: u.Query()}
}

// String generates a deterministic key.
// Format: harvester:response:host/path:name1=v1,v2:name2=v
//
// Example:
//
//	harvester:response:vsco.co/ajxp/tok/2.0/medias:page=2:site_id=113950:size=1000
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(KeyPrefix)
	b.WriteString(":")
	b.WriteString(strings.ToLower(k.Host))
	b.WriteString("/")
	b.WriteString(strings.Trim(k.Path, "/"))

	names := make([]string, 0, len(k.Query))
	for name := range k.Query {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := append([]string(nil), k.Query[name]...)
		sort.Strings(values)
		b.WriteString(":")
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(strings.Join(values, ","))
	}
	return b.String()
}
