package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// matcher is one named tier of a fallback chain.
type matcher struct {
	name string
	sel  cascadia.Selector
}

// first returns the matches of the first tier with at least one hit.
func first(s *goquery.Selection, tiers []matcher) (*goquery.Selection, string) {
	for _, m := range tiers {
		if found := s.FindMatcher(m.sel); found.Length() > 0 {
			return found, m.name
		}
	}
	return nil, ""
}

// Listing containers, in the order the marketplace layouts are tried.
var containerTiers = []matcher{
	{"layout-item", cascadia.MustCompile("li.ui-search-layout__item")},
	{"result-wrapper", cascadia.MustCompile("div.ui-search-result__wrapper")},
	{"card", cascadia.MustCompile(".ui-search-layout__item, .andes-card")},
}

// titleMatcher finds the title node of an item. When link is set the URL
// comes from the item's first match of link instead of the title node.
type titleMatcher struct {
	name  string
	title cascadia.Selector
	link  cascadia.Selector
}

var titleTiers = []titleMatcher{
	{name: "poly-title", title: cascadia.MustCompile("a.poly-component__title")},
	{
		name:  "legacy-h2",
		title: cascadia.MustCompile("h2.ui-search-item__title"),
		link:  cascadia.MustCompile("a.ui-search-link, a[href]"),
	},
	{name: "h3-link", title: cascadia.MustCompile("h3 a")},
}

// findTitle returns the trimmed title text and raw href of an item.
func findTitle(item *goquery.Selection) (title, href, tier string, ok bool) {
	for _, m := range titleTiers {
		node := item.FindMatcher(m.title).First()
		if node.Length() == 0 {
			continue
		}
		title = strings.TrimSpace(node.Text())
		if m.link != nil {
			href, _ = item.FindMatcher(m.link).First().Attr("href")
		} else {
			href, _ = node.Attr("href")
		}
		return title, strings.TrimSpace(href), m.name, true
	}
	return "", "", "", false
}

var (
	currentPriceSel = cascadia.MustCompile("div.poly-price__current")
	fractionSel     = cascadia.MustCompile("span.andes-money-amount__fraction")
	centsSel        = cascadia.MustCompile("span.andes-money-amount__cents")
	sellerSel       = cascadia.MustCompile(".poly-component__seller")
)

var originalPriceTiers = []matcher{
	{"strikethrough", cascadia.MustCompile("s.andes-money-amount")},
	{"poly-original", cascadia.MustCompile("div.poly-price__original")},
}

var imageTiers = []matcher{
	{"poly-picture", cascadia.MustCompile("img.poly-component__picture")},
	{"any-img", cascadia.MustCompile("img")},
}

// imageURL prefers the lazy-load attribute over src.
func imageURL(item *goquery.Selection) string {
	imgs, _ := first(item, imageTiers)
	if imgs == nil {
		return ""
	}
	img := imgs.First()
	if v, ok := img.Attr("data-src"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	v, _ := img.Attr("src")
	return strings.TrimSpace(v)
}

// amountText returns the fraction and cents text inside a money container.
func amountText(container *goquery.Selection) (fraction, cents string, found bool) {
	f := container.FindMatcher(fractionSel).First()
	if f.Length() == 0 {
		return "", "", false
	}
	c := container.FindMatcher(centsSel).First()
	return strings.TrimSpace(f.Text()), strings.TrimSpace(c.Text()), true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
