package parser

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-watch-listings/models"
)

// FieldSelectors lists alternative sub-selectors per field; the first non-empty match wins.
// An empty Link selector means the container itself carries the href.
type FieldSelectors struct {
	Title []string
	Price []string
	Image []string
	Link  []string
}

// SelectorSet describes one revision of the listing markup.
type SelectorSet struct {
	Name      string
	Container string
	Fields    FieldSelectors
}

// ListingSelectors are tried in order; the first set that yields items wins.
var ListingSelectors = []SelectorSet{
	{
		Name:      "card",
		Container: `a[class*="card_card"]`,
		Fields: FieldSelectors{
			Title: []string{`[class*="product-title"]`, `h3`, `h2`, `[class*="title"]`},
			Price: []string{`[class*="price"]`},
			Image: []string{`img`},
			Link:  []string{""},
		},
	},
	{
		Name:      "feed-item",
		Container: `[data-testid="item-layout"], div[class*="feed_item"], div[class*="feeditem"]`,
		Fields: FieldSelectors{
			Title: []string{`[data-testid="item-title"]`, `[class*="title"]`, `h3`, `h2`},
			Price: []string{`[data-testid="price"]`, `[class*="price"]`},
			Image: []string{`img`},
			Link:  []string{`a[href*="/item/"]`, `a[href]`, ""},
		},
	},
	{
		Name:      "product-preview",
		Container: `.product-preview`,
		Fields: FieldSelectors{
			Title: []string{`h3`, `.product-title`, `[class*="title"]`},
			Price: []string{`.price`, `[class*="price"]`},
			Image: []string{`img`},
			Link:  []string{`a[href]`},
		},
	},
}

var genericFields = FieldSelectors{
	Title: []string{`h3`, `h2`, `.product-title`, `[class*="title"]`},
	Price: []string{`.price`, `[class*="price"]`},
	Image: []string{`img`},
	Link:  []string{`a[href]`},
}

var genericKeywords = []string{"product", "item", "card"}

// itemSet accumulates items while dropping repeated ids.
type itemSet struct {
	items []models.Item
	seen  map[string]struct{}
}

func newItemSet() *itemSet {
	return &itemSet{items: []models.Item{}, seen: make(map[string]struct{})}
}

func (s *itemSet) add(item models.Item) bool {
	if _, dup := s.seen[item.ID]; dup {
		return false
	}
	s.seen[item.ID] = struct{}{}
	s.items = append(s.items, item)
	return true
}

func extractStructured(doc *goquery.Document, baseURL string) []models.Item {
	for _, set := range ListingSelectors {
		containers := doc.Find(set.Container)
		slog.Debug("selector set matched",
			slog.String("set", set.Name),
			slog.Int("containers", containers.Length()),
		)
		if containers.Length() == 0 {
			continue
		}

		items := newItemSet()
		containers.Each(func(i int, s *goquery.Selection) {
			if item, ok := safeBuildItem(s, i, set.Fields, baseURL, set.Name); ok {
				items.add(item)
			}
		})
		if len(items.items) > 0 {
			return items.items
		}
	}
	return nil
}

func extractGeneric(doc *goquery.Document, baseURL string) []models.Item {
	items := newItemSet()
	doc.Find("div, li, article, section").Each(func(i int, s *goquery.Selection) {
		class := strings.ToLower(s.AttrOr("class", ""))
		if !containsAny(class, genericKeywords) {
			return
		}
		if s.Find("a[href]").Length() == 0 {
			return
		}
		if item, ok := safeBuildItem(s, i, genericFields, baseURL, StrategyGeneric); ok {
			items.add(item)
		}
	})
	return items.items
}

// safeBuildItem isolates a single container so a failure only skips that item.
func safeBuildItem(s *goquery.Selection, index int, fields FieldSelectors, baseURL, source string) (item models.Item, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("skipping item",
				slog.String("source", source),
				slog.Int("index", index),
				slog.Any("error", fmt.Errorf("%v", r)),
			)
			item, ok = models.Item{}, false
		}
	}()
	return buildItem(s, index, fields, baseURL)
}

func buildItem(s *goquery.Selection, index int, fields FieldSelectors, baseURL string) (models.Item, bool) {
	title := firstText(s, fields.Title)
	price := firstText(s, fields.Price)
	if title == "" && price == "" {
		return models.Item{}, false
	}

	href := firstHref(s, fields.Link)
	image := firstImage(s, fields.Image)
	if image != "" {
		image = NormalizeURL(baseURL, image)
	}

	return models.Item{
		ID:    deriveID(attrID(s), href, title, price, index),
		Title: title,
		Price: price,
		Image: image,
		Link:  NormalizeURL(baseURL, href),
	}, true
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
