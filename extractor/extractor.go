// Package extractor turns marketplace search pages into product records.
package extractor

import (
	"bytes"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/use-agent/promozone/models"
)

// Options fixes the values stamped on every record of one run.
type Options struct {
	// BaseURL resolves relative listing links.
	BaseURL string

	Marketplace  string // default: "mercado_livre"
	Currency     string // default: "BRL"
	ItemIDPrefix string // default: "MLB"

	// CrawlID is the run's collection identifier.
	CrawlID string

	// Now stamps CollectedAt. Defaults to time.Now.
	Now func() time.Time
}

// Extractor parses search result documents. It holds no per-document state
// and is safe for concurrent use.
type Extractor struct {
	opts   Options
	base   *url.URL
	idExpr *regexp.Regexp
}

// New creates an Extractor. Zero-valued options take defaults.
func New(opts Options) *Extractor {
	if opts.Marketplace == "" {
		opts.Marketplace = models.DefaultMarketplace
	}
	if opts.Currency == "" {
		opts.Currency = models.DefaultCurrency
	}
	if opts.ItemIDPrefix == "" {
		opts.ItemIDPrefix = "MLB"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || opts.BaseURL == "" {
		base = nil
	}
	return &Extractor{
		opts:   opts,
		base:   base,
		idExpr: regexp.MustCompile(regexp.QuoteMeta(opts.ItemIDPrefix) + `-?(\d+)`),
	}
}

// CrawlID returns the collection identifier stamped on records.
func (e *Extractor) CrawlID() string { return e.opts.CrawlID }

// Extract returns the products found in document. It never fails: a
// malformed document yields no products and unusable items are skipped.
func (e *Extractor) Extract(document []byte, sourceTerm string) []models.Product {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(document))
	if err != nil {
		slog.Debug("extractor: unparseable document", "source", sourceTerm, "error", err)
		return nil
	}

	items, tier := first(doc.Selection, containerTiers)
	if items == nil {
		slog.Debug("extractor: no listing containers", "source", sourceTerm)
		return nil
	}
	slog.Debug("extractor: containers found", "source", sourceTerm, "tier", tier, "count", items.Length())

	collectedAt := e.opts.Now().UTC()
	products := make([]models.Product, 0, items.Length())
	items.Each(func(i int, item *goquery.Selection) {
		p, reason := e.extractItem(item, sourceTerm, collectedAt)
		if reason != "" {
			slog.Debug("extractor: item skipped", "source", sourceTerm, "index", i, "reason", reason)
			return
		}
		products = append(products, p)
	})
	return products
}

func (e *Extractor) extractItem(item *goquery.Selection, source string, collectedAt time.Time) (models.Product, string) {
	title, href, _, ok := findTitle(item)
	if !ok {
		return models.Product{}, "no title"
	}
	link := e.resolve(href)

	m := e.idExpr.FindStringSubmatch(link)
	if m == nil {
		return models.Product{}, "no item id"
	}
	itemID := e.opts.ItemIDPrefix + m[1]

	price := decimal.Zero
	if current := item.FindMatcher(currentPriceSel).First(); current.Length() > 0 {
		if fraction, cents, found := amountText(current); found {
			p, err := ParsePrice(fraction, cents)
			if err != nil {
				return models.Product{}, err.Error()
			}
			price = p
		}
	}

	var original decimal.NullDecimal
	if containers, _ := first(item, originalPriceTiers); containers != nil {
		if fraction, cents, found := amountText(containers.First()); found {
			if op, err := ParsePrice(fraction, cents); err == nil {
				original = decimal.NewNullDecimal(op)
			}
		}
	}

	return models.NewProduct(models.ProductInput{
		Marketplace:   e.opts.Marketplace,
		ItemID:        itemID,
		URL:           link,
		Title:         title,
		Price:         price,
		OriginalPrice: original,
		Seller:        trimmedText(item.FindMatcher(sellerSel).First()),
		ImageURL:      imageURL(item),
		Source:        source,
		CollectedAt:   collectedAt,
		CrawlID:       e.opts.CrawlID,
		Currency:      e.opts.Currency,
	}), ""
}

func (e *Extractor) resolve(href string) string {
	if e.base == nil || href == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return e.base.ResolveReference(ref).String()
}

func trimmedText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	return collapseSpace(s.Text())
}
