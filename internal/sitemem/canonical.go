// Package sitemem remembers how to re-find elements on a site so that a
// vision lookup paid once becomes a deterministic selector lookup forever
// after. Entries are keyed by (canonical URL pattern, element description)
// and carry a confidence that use outcomes push up or down.
package sitemem

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	numericSegment = regexp.MustCompile(`^\d+$`)
	hexSegment     = regexp.MustCompile(`^[0-9a-fA-F]{8,}$`)
	uuidSegment    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// Canonicalize collapses a URL to the pattern site memory keys on: the host
// plus the path with identifier-like segments wildcarded. Numeric, hex and
// uuid segments always become "*"; so does the final segment of any path two
// or more segments deep, because leaf pages vary while their section does
// not ("/category/shoes" and "/category/bags" share selectors).
func Canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("https://" + raw)
		if err != nil || u.Host == "" {
			return strings.ToLower(raw)
		}
	}
	host := strings.ToLower(u.Hostname())

	segs := splitPath(u.Path)
	if len(segs) == 0 {
		return host + "/"
	}
	for i, seg := range segs {
		if variableSegment(seg) {
			segs[i] = "*"
		}
	}
	if len(segs) >= 2 {
		segs[len(segs)-1] = "*"
	}
	return host + "/" + strings.Join(segs, "/")
}

func splitPath(path string) []string {
	var segs []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}

func variableSegment(seg string) bool {
	return numericSegment.MatchString(seg) ||
		uuidSegment.MatchString(seg) ||
		hexSegment.MatchString(seg)
}
