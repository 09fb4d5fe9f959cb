package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cespare/xxhash/v2"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	hasScheme  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)
)

// idAttributes are checked on the container before falling back to the link.
var idAttributes = []string{"data-id", "data-item-id", "item-id", "data-token"}

// CleanText collapses runs of whitespace and trims the result.
func CleanText(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// NormalizeURL resolves href against the base origin. Absolute URLs pass through,
// protocol-relative ones get https, and relative paths with or without a leading slash
// are joined with a single slash. An empty href resolves to the base itself.
func NormalizeURL(base, href string) string {
	href = strings.TrimSpace(href)
	base = strings.TrimRight(base, "/")
	switch {
	case href == "":
		return base
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case hasScheme.MatchString(href):
		return href
	default:
		return base + "/" + strings.TrimLeft(href, "/")
	}
}

// SyntheticID derives an identifier from the normalized title and price.
// It changes whenever either field's wording changes.
func SyntheticID(title, price string) string {
	key := strings.ToLower(CleanText(title)) + "|" + strings.ToLower(CleanText(price))
	return fmt.Sprintf("syn-%016x", xxhash.Sum64String(key))
}

// IDFromHref returns the last path segment of href with query and fragment removed.
func IDFromHref(href string) string {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimRight(href, "/")
	if hasScheme.MatchString(href) || strings.HasPrefix(href, "//") {
		authority := strings.Index(href, "//")
		if authority < 0 {
			// mailto:, tel:, javascript: and friends carry no path.
			return ""
		}
		// Skip the authority so a bare origin does not yield its host name.
		rest := href[authority+2:]
		slash := strings.Index(rest, "/")
		if slash < 0 {
			return ""
		}
		href = rest[slash:]
	}
	if i := strings.LastIndex(href, "/"); i >= 0 {
		href = href[i+1:]
	}
	return href
}

// deriveID picks the most stable identifier available.
func deriveID(attrID, href, title, price string, index int) string {
	if attrID != "" {
		return attrID
	}
	if id := IDFromHref(href); id != "" {
		return id
	}
	if title != "" || price != "" {
		return SyntheticID(title, price)
	}
	return fmt.Sprintf("item_%d", index)
}

func attrID(s *goquery.Selection) string {
	for _, attr := range idAttributes {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	for _, attr := range idAttributes {
		if v, ok := s.Find("[" + attr + "]").First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// firstText returns the first non-empty text among selectors.
func firstText(s *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := CleanText(s.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// firstHref returns the first non-empty href among selectors. An empty selector
// refers to the container itself.
func firstHref(s *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		target := s
		if sel != "" {
			target = s.Find(sel).First()
		}
		if href, ok := target.Attr("href"); ok && strings.TrimSpace(href) != "" {
			return strings.TrimSpace(href)
		}
	}
	return ""
}

func firstImage(s *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		img := s.Find(sel).First()
		if src := imageSource(img); src != "" {
			return src
		}
	}
	return ""
}

func imageSource(img *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src"} {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(v, "data:") {
			return strings.TrimSpace(v)
		}
	}
	if srcset, ok := img.Attr("srcset"); ok {
		if fields := strings.Fields(srcset); len(fields) > 0 {
			return strings.TrimSuffix(fields[0], ",")
		}
	}
	return ""
}
