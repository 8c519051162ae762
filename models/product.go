package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Defaults for the canonical record when the caller leaves them empty.
const (
	DefaultMarketplace = "mercado_livre"
	DefaultCurrency    = "BRL"
)

var hundred = decimal.NewFromInt(100)

// Product is one normalized listing observed on a search page.
//
// Values are built by NewProduct and passed by value; nothing mutates a
// Product after construction.
type Product struct {
	Marketplace     string              `json:"marketplace"`
	ItemID          string              `json:"item_id"`
	URL             string              `json:"url"`
	Title           string              `json:"title"`
	Price           decimal.Decimal     `json:"price"`
	OriginalPrice   decimal.NullDecimal `json:"original_price"`
	DiscountPercent decimal.NullDecimal `json:"discount_percent"`
	Seller          string              `json:"seller,omitempty"`
	ImageURL        string              `json:"image_url,omitempty"`
	Source          string              `json:"source"`
	CollectedAt     time.Time           `json:"collected_at"`
	CrawlID         string              `json:"execution_id"`
	Currency        string              `json:"currency"`
}

// ProductInput carries the raw fields extracted for one listing.
type ProductInput struct {
	Marketplace   string
	ItemID        string
	URL           string
	Title         string
	Price         decimal.Decimal
	OriginalPrice decimal.NullDecimal
	Seller        string
	ImageURL      string
	Source        string
	CollectedAt   time.Time
	CrawlID       string
	Currency      string
}

// NewProduct builds a Product and derives its discount.
//
// DiscountPercent is set only when the original price is present and
// strictly greater than the current price.
func NewProduct(in ProductInput) Product {
	p := Product{
		Marketplace:   in.Marketplace,
		ItemID:        in.ItemID,
		URL:           in.URL,
		Title:         in.Title,
		Price:         in.Price,
		OriginalPrice: in.OriginalPrice,
		Seller:        in.Seller,
		ImageURL:      in.ImageURL,
		Source:        in.Source,
		CollectedAt:   in.CollectedAt.UTC(),
		CrawlID:       in.CrawlID,
		Currency:      in.Currency,
	}
	if p.Marketplace == "" {
		p.Marketplace = DefaultMarketplace
	}
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	if p.CollectedAt.IsZero() {
		p.CollectedAt = time.Now().UTC()
	}
	if p.OriginalPrice.Valid && p.OriginalPrice.Decimal.GreaterThan(p.Price) {
		off := p.OriginalPrice.Decimal.Sub(p.Price).Mul(hundred).Div(p.OriginalPrice.Decimal)
		p.DiscountPercent = decimal.NewNullDecimal(off.Round(2))
	}
	return p
}

// DedupeKey returns the record's identity in the store.
func (p Product) DedupeKey() string {
	return DedupeKey(p.Marketplace, p.ItemID, p.Price)
}

// HasDiscount reports whether the listing is on sale.
func (p Product) HasDiscount() bool {
	return p.OriginalPrice.Valid && p.OriginalPrice.Decimal.GreaterThan(p.Price)
}

// DedupeKey joins marketplace, item id and price into the key used for
// duplicate detection. A price change yields a new key.
func DedupeKey(marketplace, itemID string, price decimal.Decimal) string {
	return marketplace + "_" + itemID + "_" + price.StringFixed(2)
}

// MarshalJSON adds the derived dedupe_key and has_discount fields.
func (p Product) MarshalJSON() ([]byte, error) {
	type plain Product
	return json.Marshal(struct {
		plain
		DedupeKey   string `json:"dedupe_key"`
		HasDiscount bool   `json:"has_discount"`
	}{
		plain:       plain(p),
		DedupeKey:   p.DedupeKey(),
		HasDiscount: p.HasDiscount(),
	})
}

// StoredRecord is a persisted product as read back from the store.
type StoredRecord struct {
	Product
	InsertedAt time.Time `json:"inserted_at"`
}

// MarshalJSON keeps the embedded Product's derived fields and adds inserted_at.
func (r StoredRecord) MarshalJSON() ([]byte, error) {
	type plain Product
	return json.Marshal(struct {
		plain
		DedupeKey   string    `json:"dedupe_key"`
		HasDiscount bool      `json:"has_discount"`
		InsertedAt  time.Time `json:"inserted_at"`
	}{
		plain:       plain(r.Product),
		DedupeKey:   r.DedupeKey(),
		HasDiscount: r.HasDiscount(),
		InsertedAt:  r.InsertedAt,
	})
}

// StoreStats summarizes the records table.
type StoreStats struct {
	TotalProducts   int64               `json:"total_products"`
	UniqueItems     int64               `json:"unique_items"`
	TotalExecutions int64               `json:"total_executions"`
	FirstCollection *time.Time          `json:"first_collection"`
	LastCollection  *time.Time          `json:"last_collection"`
	AvgPrice        decimal.NullDecimal `json:"avg_price"`
	ProductsOnSale  int64               `json:"products_on_sale"`
}
