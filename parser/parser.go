// Package parser turns listing page markup into item records.
package parser

import (
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-watch-listings/models"
)

// CaptchaTitle is the page title served by the anti-bot challenge wall.
const CaptchaTitle = "ShieldSquare Captcha"

// Strategy names.
const (
	StrategyStructured = "structured"
	StrategyGeneric    = "generic"
	StrategyEmbedded   = "embedded"
)

// Strategy is one way of pulling items out of a parsed page.
type Strategy struct {
	Name    string
	Extract func(doc *goquery.Document, baseURL string) []models.Item
}

// DefaultStrategies returns the extraction cascade in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: StrategyStructured, Extract: extractStructured},
		{Name: StrategyGeneric, Extract: extractGeneric},
		{Name: StrategyEmbedded, Extract: extractEmbedded},
	}
}

// Result is the output of a successful extraction.
type Result struct {
	Items     []models.Item
	Strategy  string
	PageTitle string
}

// Parser extracts items by trying each strategy in turn until one yields records.
type Parser struct {
	baseURL    string
	strategies []Strategy
}

// New builds a parser resolving relative links against baseURL. With no strategies
// the default cascade is used.
func New(baseURL string, strategies ...Strategy) *Parser {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Parser{
		baseURL:    strings.TrimRight(baseURL, "/"),
		strategies: strategies,
	}
}

// Extract returns the items found in markup.
func (p *Parser) Extract(markup string) ([]models.Item, error) {
	res, err := p.ExtractResult(markup)
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// ExtractResult is Extract plus the name of the strategy that produced the items.
func (p *Parser) ExtractResult(markup string) (Result, error) {
	if strings.TrimSpace(markup) == "" {
		return Result{}, &ExtractionError{Reason: ReasonEmptyResponse}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return Result{}, &ExtractionError{Reason: ReasonMalformed, Err: err}
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == CaptchaTitle {
		return Result{PageTitle: title}, &ExtractionError{Reason: ReasonBotDetection}
	}
	slog.Debug("parsing page", slog.String("title", title))

	for _, s := range p.strategies {
		items := s.Extract(doc, p.baseURL)
		slog.Debug("strategy finished",
			slog.String("strategy", s.Name),
			slog.Int("items", len(items)),
		)
		if len(items) > 0 {
			return Result{Items: items, Strategy: s.Name, PageTitle: title}, nil
		}
	}

	return Result{Items: []models.Item{}, PageTitle: title}, nil
}
