// Package order manages order composition and exposes the priced view of an
// order before any charge is opened.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/kasir-api/internal/common"
	"github.com/noah-isme/kasir-api/internal/credential"
	"github.com/noah-isme/kasir-api/internal/money"
	"github.com/noah-isme/kasir-api/internal/pricing"
	"github.com/noah-isme/kasir-api/internal/store"
)

// Repo is the persistence surface the order handlers use.
type Repo interface {
	CreateOrder(ctx context.Context, p store.CreateOrderParams) (store.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (store.Order, error)
	GetDiscount(ctx context.Context, id uuid.UUID) (store.Discount, error)
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]store.Item, error)
	ListActiveOrderTaxes(ctx context.Context, orderID uuid.UUID) ([]store.Tax, error)
}

// Handler exposes the order endpoints.
type Handler struct {
	Repo     Repo
	Validate *validator.Validate
}

type createOrderRequest struct {
	ItemIDs    []uuid.UUID `json:"itemIds" validate:"required,min=1,dive,required"`
	DiscountID *uuid.UUID  `json:"discountId"`
	TaxIDs     []uuid.UUID `json:"taxIds" validate:"dive,required"`
}

type orderResponse struct {
	ID         uuid.UUID      `json:"id"`
	DiscountID *uuid.UUID     `json:"discountId,omitempty"`
	Paid       bool           `json:"paid"`
	CreatedAt  time.Time      `json:"createdAt"`
	Items      []orderItem    `json:"items,omitempty"`
	Pricing    *pricingDetail `json:"pricing,omitempty"`
}

type orderItem struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Price    int64     `json:"price"`
	Currency string    `json:"currency"`
}

type pricingDetail struct {
	Currency     string    `json:"currency"`
	Subtotal     int64     `json:"subtotal"`
	Discount     int64     `json:"discount"`
	Taxable      int64     `json:"taxable"`
	TaxLines     []taxLine `json:"taxLines,omitempty"`
	Total        int64     `json:"total"`
	DisplayTotal string    `json:"displayTotal"`
}

type taxLine struct {
	Name      string `json:"name"`
	Bps       int32  `json:"bps"`
	Inclusive bool   `json:"inclusive"`
	Amount    int64  `json:"amount"`
}

// Create handles POST /orders.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", nil)
		return
	}
	if err := h.Validate.Struct(&req); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "request failed validation", nil)
		return
	}
	order, err := h.Repo.CreateOrder(r.Context(), store.CreateOrderParams{
		ItemIDs:    req.ItemIDs,
		DiscountID: req.DiscountID,
		TaxIDs:     req.TaxIDs,
	})
	if err != nil {
		common.WriteError(w, common.Unexpected(err))
		return
	}
	common.JSON(w, http.StatusCreated, orderResponse{
		ID:         order.ID,
		DiscountID: order.DiscountID,
		Paid:       order.Paid,
		CreatedAt:  order.CreatedAt,
	})
}

// Get handles GET /orders/{id}. The response carries the full price
// breakdown computed from the current items, discount and active taxes.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID", nil)
		return
	}
	order, err := h.Repo.GetOrder(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	if err != nil {
		common.WriteError(w, common.Unexpected(err))
		return
	}
	items, err := h.Repo.ListOrderItems(r.Context(), order.ID)
	if err != nil {
		common.WriteError(w, common.Unexpected(err))
		return
	}
	resp := orderResponse{
		ID:         order.ID,
		DiscountID: order.DiscountID,
		Paid:       order.Paid,
		CreatedAt:  order.CreatedAt,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, orderItem{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.Price,
			Currency: credential.Canonical(item.Currency),
		})
	}
	if len(items) > 0 {
		detail, err := h.priceDetail(r.Context(), order, items)
		if err != nil {
			common.WriteError(w, common.Unexpected(err))
			return
		}
		resp.Pricing = detail
	}
	common.JSON(w, http.StatusOK, resp)
}

func (h *Handler) priceDetail(ctx context.Context, order store.Order, items []store.Item) (*pricingDetail, error) {
	pct := 0
	if order.DiscountID != nil {
		d, err := h.Repo.GetDiscount(ctx, *order.DiscountID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if err == nil && d.Active {
			pct = int(d.PercentOff)
		}
	}
	taxes, err := h.Repo.ListActiveOrderTaxes(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	quoteItems := make([]pricing.Item, 0, len(items))
	for _, item := range items {
		quoteItems = append(quoteItems, pricing.Item{Name: item.Name, UnitPrice: item.Price})
	}
	quoteTaxes := make([]pricing.TaxRate, 0, len(taxes))
	for _, t := range taxes {
		quoteTaxes = append(quoteTaxes, pricing.TaxRate{Name: t.DisplayName, Bps: t.Bps, Inclusive: t.Inclusive})
	}
	quote, err := pricing.Quote(quoteItems, pct, quoteTaxes)
	if err != nil {
		return nil, err
	}

	currency := credential.Canonical(items[0].Currency)
	detail := &pricingDetail{
		Currency:     currency,
		Subtotal:     quote.Subtotal,
		Discount:     quote.Discount,
		Taxable:      quote.Taxable,
		Total:        quote.Total,
		DisplayTotal: money.Format(quote.Total, currency),
	}
	for _, line := range quote.Lines {
		detail.TaxLines = append(detail.TaxLines, taxLine{
			Name:      line.Name,
			Bps:       line.Bps,
			Inclusive: line.Inclusive,
			Amount:    line.Amount,
		})
	}
	return detail, nil
}
