package parse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"adwatch/pkg/config"
	"adwatch/pkg/models"
	"adwatch/pkg/utils"
)

// Extractor pulls listing records out of one fetched search-result page.
// Card-boundary detection walks an ordered list of structural selectors and
// uses the first that yields any matches, which absorbs marketplace markup
// drift without code changes. Field extraction per card is best-effort: a
// missing sub-element yields an empty field, never an aborted card; only a
// card with no usable title/URL pair is skipped entirely.
type Extractor struct {
	mp         config.MarketplaceConfig
	price      *PriceParser
	externalID *regexp.Regexp
	log        *logrus.Logger
}

// NewExtractor creates an Extractor. The external-ID pattern is validated at
// config load time to contain exactly one capture group.
func NewExtractor(mp config.MarketplaceConfig, price *PriceParser, log *logrus.Logger) *Extractor {
	return &Extractor{
		mp:         mp,
		price:      price,
		externalID: regexp.MustCompile(mp.ExternalIDPattern),
		log:        log,
	}
}

// Extract parses one page body and returns its listings. page is the 1-based
// page index; startPos is the rank of the first listing on this page, so that
// positions stay continuous across the whole run.
func (e *Extractor) Extract(body string, page, startPos int) ([]models.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML: %v", utils.ErrParsing, err)
	}

	cards := e.findCards(doc)
	if cards == nil {
		e.log.WithField("page", page).Debug("No cards found on page")
		return nil, nil
	}

	var listings []models.Listing
	skipped := 0
	pos := startPos
	cards.Each(func(i int, card *goquery.Selection) {
		listing, ok := e.extractCard(card)
		if !ok {
			skipped++
			return
		}
		listing.Page = page
		listing.Position = pos
		pos++
		listings = append(listings, listing)
	})

	e.log.WithFields(logrus.Fields{
		"page":     page,
		"listings": len(listings),
		"skipped":  skipped,
	}).Debug("Extracted page")
	return listings, nil
}

// findCards returns the first card selection with any matches, or nil.
func (e *Extractor) findCards(doc *goquery.Document) *goquery.Selection {
	for _, sel := range e.mp.CardSelectors {
		if cards := doc.Find(sel); cards.Length() > 0 {
			return cards
		}
	}
	return nil
}

// extractCard pulls one listing out of a card selection. ok is false when the
// card exposes neither a title nor a URL, in which case it is skipped rather
// than counted as an error.
func (e *Extractor) extractCard(card *goquery.Selection) (models.Listing, bool) {
	var l models.Listing

	link := card.Find("a[href]").First()
	if href, exists := link.Attr("href"); exists {
		l.URL = e.absoluteURL(strings.TrimSpace(href))
	}

	l.Title = firstText(card, e.mp.TitleSelectors)
	if l.Title == "" {
		// Card markup without a heading: fall back to the anchor text
		l.Title = strings.TrimSpace(link.Text())
	}
	if l.Title == "" && l.URL == "" {
		return models.Listing{}, false
	}

	if l.URL != "" {
		if m := e.externalID.FindStringSubmatch(l.URL); m != nil {
			l.ExternalID = m[1]
		}
	}

	// Prefer price-labeled sub-elements; fall back to whole-card text, which
	// is noisier but still usually carries the one grouped number we want
	priceText := firstText(card, e.mp.PriceSelectors)
	if priceText == "" {
		priceText = strings.TrimSpace(card.Text())
	}
	if v, cur, ok := e.price.Parse(priceText); ok {
		l.Price = &v
		l.Currency = cur
	}

	l.Location = firstText(card, e.mp.LocationSelectors)
	if seller := firstSelection(card, e.mp.SellerSelectors); seller != nil {
		l.SellerName = strings.TrimSpace(seller.Text())
		if id, exists := seller.Attr("data-seller-id"); exists {
			l.SellerID = strings.TrimSpace(id)
		}
	}

	return l, true
}

// absoluteURL resolves marketplace-relative hrefs against the canonical host.
func (e *Extractor) absoluteURL(href string) string {
	if href == "" || strings.Contains(href, "://") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "/") {
		return "https://" + e.mp.CanonicalHost + href
	}
	return href
}

// firstText returns the trimmed text of the first selector that matches.
func firstText(card *goquery.Selection, selectors []string) string {
	if s := firstSelection(card, selectors); s != nil {
		return strings.TrimSpace(s.Text())
	}
	return ""
}

// firstSelection returns the first match of an ordered selector chain, or nil.
func firstSelection(card *goquery.Selection, selectors []string) *goquery.Selection {
	for _, sel := range selectors {
		if s := card.Find(sel); s.Length() > 0 {
			return s.First()
		}
	}
	return nil
}
