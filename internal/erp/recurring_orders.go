package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type listResponse struct {
	Items []map[string]any `json:"items"`
}

// ListRecurringOrders fetches the raw recurring-order records of a customer.
// Numbers are decoded as json.Number so ERP ids keep their exact text.
func (c *Client) ListRecurringOrders(ctx context.Context, customerID string) ([]map[string]any, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: empty customer id", ErrInvalidID)
	}
	q := url.Values{}
	q.Set("customerId", customerID)
	data, err := c.do(ctx, "list_recurring_orders", http.MethodGet, c.baseURL+"/recurring-orders?"+q.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}
	var out listResponse
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("erp: list_recurring_orders: decode: %w", err)
	}
	return out.Items, nil
}

// PatchRecurringOrder sends a partial update. Any 2xx status is success; other
// statuses surface as *Error carrying the response body.
func (c *Client) PatchRecurringOrder(ctx context.Context, roID string, body any) error {
	roID = strings.TrimSpace(roID)
	if roID == "" {
		return fmt.Errorf("%w: empty recurring order id", ErrInvalidID)
	}
	_, err := c.do(ctx, "patch_recurring_order", http.MethodPatch, c.baseURL+"/recurring-orders/"+url.PathEscape(roID), body, nil)
	return err
}
