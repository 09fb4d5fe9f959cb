package parser

import (
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/titanous/json5"

	"github.com/aluiziolira/go-watch-listings/models"
)

// NextDataID is the script id carrying server-rendered page props.
const NextDataID = "__NEXT_DATA__"

var stateAssignment = regexp.MustCompile(`window\.__(?:INITIAL|PRELOADED)_STATE__\s*=\s*`)

var (
	embeddedIDKeys    = []string{"id", "token", "itemId", "adNumber", "orderId"}
	embeddedTitleKeys = []string{"title", "name", "productName"}
	embeddedPriceKeys = []string{"price", "priceText", "formattedPrice"}
	embeddedImageKeys = []string{"image", "imageUrl", "coverImage", "thumbnail", "images"}
	embeddedLinkKeys  = []string{"url", "link", "href", "permalink"}
)

// embeddedItem is an item entry as serialized in the page state object.
type embeddedItem struct {
	ID    string
	Title string
	Price string
	Image string
	Link  string
}

func extractEmbedded(doc *goquery.Document, baseURL string) []models.Item {
	items := newItemSet()
	doc.Find("script").Each(func(i int, s *goquery.Selection) {
		blob := stateBlob(s)
		if blob == "" {
			return
		}

		var state any
		if err := json5.Unmarshal([]byte(blob), &state); err != nil {
			slog.Warn("embedded state not parseable", slog.Int("script", i), slog.Any("error", err))
			return
		}

		for index, entry := range collectEntries(state, nil) {
			item, ok := entry.toItem(baseURL, index)
			if ok {
				items.add(item)
			}
		}
	})
	return items.items
}

// stateBlob returns the JSON text of a state-carrying script, or "".
func stateBlob(s *goquery.Selection) string {
	text := s.Text()
	if id, _ := s.Attr("id"); id == NextDataID {
		return strings.TrimSpace(text)
	}
	loc := stateAssignment.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	return leadingObject(text[loc[1]:])
}

// leadingObject returns the first balanced {...} or [...] value at the start of s,
// ignoring brackets inside quoted strings. Anything after it is dropped.
func leadingObject(s string) string {
	s = strings.TrimLeft(s, " \t\r\n")
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return ""
	}
	depth := 0
	var quote byte
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// collectEntries walks the decoded state and gathers every array of item-like objects.
func collectEntries(node any, out []embeddedItem) []embeddedItem {
	switch v := node.(type) {
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(v)) {
			out = collectEntries(v[k], out)
		}
	case []any:
		matched := false
		for _, elem := range v {
			m, ok := elem.(map[string]any)
			if !ok || !looksLikeItem(m) {
				continue
			}
			matched = true
			out = append(out, decodeEntry(m))
		}
		if !matched {
			for _, elem := range v {
				out = collectEntries(elem, out)
			}
		}
	}
	return out
}

func looksLikeItem(m map[string]any) bool {
	if scalarString(firstKey(m, embeddedIDKeys)) == "" {
		return false
	}
	return firstKey(m, embeddedTitleKeys) != nil || firstKey(m, embeddedPriceKeys) != nil
}

func decodeEntry(m map[string]any) embeddedItem {
	return embeddedItem{
		ID:    scalarString(firstKey(m, embeddedIDKeys)),
		Title: CleanText(scalarString(firstKey(m, embeddedTitleKeys))),
		Price: CleanText(priceString(firstKey(m, embeddedPriceKeys))),
		Image: imageString(firstKey(m, embeddedImageKeys)),
		Link:  scalarString(firstKey(m, embeddedLinkKeys)),
	}
}

func (e embeddedItem) toItem(baseURL string, index int) (models.Item, bool) {
	if e.Title == "" && e.Price == "" {
		return models.Item{}, false
	}
	link := e.Link
	image := e.Image
	if image != "" {
		image = NormalizeURL(baseURL, image)
	}
	return models.Item{
		ID:    deriveID(e.ID, link, e.Title, e.Price, index),
		Title: e.Title,
		Price: e.Price,
		Image: image,
		Link:  NormalizeURL(baseURL, link),
	}, true
}

func firstKey(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func priceString(v any) string {
	if m, ok := v.(map[string]any); ok {
		for _, k := range []string{"text", "formatted", "value", "amount"} {
			if s := scalarString(m[k]); s != "" {
				return s
			}
		}
		return ""
	}
	return scalarString(v)
}

func imageString(v any) string {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return ""
		}
		return imageString(t[0])
	case map[string]any:
		for _, k := range []string{"src", "url", "href"} {
			if s := scalarString(t[k]); s != "" {
				return s
			}
		}
		return ""
	default:
		return scalarString(v)
	}
}
