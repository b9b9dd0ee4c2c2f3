package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	suiteQLPageSize = 1000
	promotionQuery  = `SELECT t.code AS code, t.custrecord_tier_fixed_price AS fixedprice, t.custrecord_tier_min_qty AS minimumquantity ` +
		`FROM customrecord_tier_promotion t WHERE t.custrecord_tier_item = '%s' AND t.isinactive = 'F' ORDER BY t.id`
)

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// PromotionRecord is one tier as stored in the ERP. Nil pointers mark columns
// that were empty or unparseable.
type PromotionRecord struct {
	Code            string
	FixedPrice      *decimal.Decimal
	MinimumQuantity *int
}

type suiteQLPage struct {
	Items   []map[string]any `json:"items"`
	HasMore bool             `json:"hasMore"`
	Count   int              `json:"count"`
}

// PromotionsForProduct loads every active tier configured for the product.
func (c *Client) PromotionsForProduct(ctx context.Context, productID string) ([]PromotionRecord, error) {
	if !safeID.MatchString(productID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, productID)
	}
	body := map[string]string{"q": fmt.Sprintf(promotionQuery, productID)}
	header := http.Header{"Prefer": []string{"transient"}}

	var out []PromotionRecord
	offset := 0
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(suiteQLPageSize))
		q.Set("offset", strconv.Itoa(offset))
		data, err := c.do(ctx, "suiteql_promotions", http.MethodPost, c.suiteQLURL+"?"+q.Encode(), body, header)
		if err != nil {
			return nil, err
		}
		var page suiteQLPage
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&page); err != nil {
			return nil, fmt.Errorf("erp: suiteql_promotions: decode: %w", err)
		}
		for _, row := range page.Items {
			out = append(out, promotionFromRow(row))
		}
		if !page.HasMore || len(page.Items) == 0 {
			return out, nil
		}
		offset += len(page.Items)
	}
}

func promotionFromRow(row map[string]any) PromotionRecord {
	rec := PromotionRecord{Code: strings.TrimSpace(fmt.Sprint(valueOr(row["code"], "")))}
	if d, ok := decimalValue(row["fixedprice"]); ok {
		rec.FixedPrice = &d
	}
	if d, ok := decimalValue(row["minimumquantity"]); ok && d.IsInteger() {
		n := int(d.IntPart())
		rec.MinimumQuantity = &n
	}
	return rec
}

func decimalValue(v any) (decimal.Decimal, bool) {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case json.Number:
		s = val.String()
	case float64:
		return decimal.NewFromFloat(val), true
	default:
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func valueOr(v, fallback any) any {
	if v == nil {
		return fallback
	}
	return v
}
