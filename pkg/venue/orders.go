package venue

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/edgetrader/pkg/trader/market"
)

// OrderRequest is the order placement payload. Only the shape needed by the
// signing protocol and the executor is modeled; venue-specific extensions
// ride in the JSON unmodified.
type OrderRequest struct {
	ContractID    string          `json:"contract_id"`
	Side          market.Side     `json:"side"`
	Price         float64         `json:"price"`
	Stake         decimal.Decimal `json:"stake"`
	ClientOrderID string          `json:"client_order_id"`
}

// OrderResponse is the venue's acknowledgement of a placed order.
type OrderResponse struct {
	OrderID     string  `json:"order_id"`
	Status      string  `json:"status"`
	FilledPrice float64 `json:"filled_price"`
}

// PlaceOrder submits a signed order. A RequestError return means the venue
// rejected the order; callers must not retry automatically, since a
// duplicate order on an ambiguous failure is worse than a missed trade.
func (c *Client) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	var out OrderResponse
	if err := c.Do(ctx, http.MethodPost, "/v1/orders", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder cancels a previously placed order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.Do(ctx, http.MethodDelete, "/v1/orders/"+orderID, nil, nil, nil)
}
