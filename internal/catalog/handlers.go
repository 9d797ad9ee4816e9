// Package catalog is the management surface for items, discounts and taxes.
package catalog

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
	"github.com/noah-isme/kasir-api/internal/store"
)

// Repo is the persistence surface the catalog handlers use.
type Repo interface {
	CreateItem(ctx context.Context, p store.CreateItemParams) (store.Item, error)
	GetItem(ctx context.Context, id uuid.UUID) (store.Item, error)
	ListItems(ctx context.Context, limit, offset int32) ([]store.Item, error)
	CreateDiscount(ctx context.Context, p store.CreateDiscountParams) (store.Discount, error)
	GetDiscount(ctx context.Context, id uuid.UUID) (store.Discount, error)
	ListDiscounts(ctx context.Context, limit, offset int32) ([]store.Discount, error)
	CreateTax(ctx context.Context, p store.CreateTaxParams) (store.Tax, error)
	GetTax(ctx context.Context, id uuid.UUID) (store.Tax, error)
	ListTaxes(ctx context.Context, limit, offset int32) ([]store.Tax, error)
}

// Handler exposes the catalog endpoints.
type Handler struct {
	Repo            Repo
	Validate        *validator.Validate
	Creds           *credential.Resolver
	DefaultCurrency string
}

type createItemRequest struct {
	Name        string `json:"name" validate:"required,max=250"`
	Description string `json:"description" validate:"max=1000"`
	Price       int64  `json:"price" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"omitempty,len=3,alpha"`
}

type itemResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Price        int64     `json:"price"`
	Currency     string    `json:"currency"`
	DisplayPrice string    `json:"displayPrice"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CreateItem handles POST /items.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	currency := credential.Canonical(req.Currency)
	if currency == "" {
		currency = credential.Canonical(h.DefaultCurrency)
	}
	item, err := h.Repo.CreateItem(r.Context(), store.CreateItemParams{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Currency:    currency,
	})
	if err != nil {
		common.WriteError(w, common.Unexpected(err))
		return
	}
	common.JSON(w, http.StatusCreated, h.itemResponse(item))
}

// GetItem handles GET /items/{id}. The payload carries the publishable key
// for the item's currency so the client can open the checkout directly.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := h.Repo.GetItem(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "item not found", nil)
		return
	}
	if err != nil {
		common.WriteError(w, common.Unexpected(err))
		return
	}
	publishable, _ := h.Creds.PublishableFor(item.Currency)
	common.JSON(w, http.StatusOK, struct {
		itemResponse
		PublishableKey string `json:"publishableKey,omitempty"`
	}{h.itemResponse(item), publishable})
}

// ListItems handles GET /items.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20)
	items, err := h.Repo.ListItems(r.Context(), int32(perPage), int32((page-1)*perPage))
	if err != nil {
		common.WriteError(w, common.Unexpected(err))
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, h.itemResponse(item))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"items": out,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: len(out),
		},
	})
}

type createDiscountRequest struct {
	Name       string `json:"name" validate:"required,max=250"`
	PercentOff int32  `json:"percentOff" validate:"required,gte=1,lte=100"`
	Active     *bool  `json:"active"`
}

type discountResponse struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	PercentOff int32     `json:"percentOff"`
	Active     bool      `json:"active"`
	CouponID   string    `json:"couponId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CreateDiscount handles POST /discounts.
func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req createDiscountRequest
	if !h.decode(w, r, &req) {
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	d, err := h.Repo.CreateDiscount(r.Context(), store.CreateDiscountParams{
		Name:       req.Name,
		PercentOff: req.PercentOff,
		Active:     active,
	})
	if err != nil {
		common.WriteError(w, common.Unexpected(err))
		return
	}
	common.JSON(w, http.StatusCreated, toDiscountResponse(d))
}

// GetDiscount handles GET /discounts/{id}.
func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.Repo.GetDiscount(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "discount not found", nil)
		return
	}
	if err != nil {
		common.WriteError(w, common.Unexpected(err))
		return
	}
	common.JSON(w, http.StatusOK, toDiscountResponse(d))
}

// ListDiscounts handles GET /discounts.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20)
	discounts, err := h.Repo.ListDiscounts(r.Context(), int32(perPage), int32((page-1)*perPage))
	if err != nil {
		common.WriteError(w, common.Unexpected(err))
		return
	}
	out := make([]discountResponse, 0, len(discounts))
	for _, d := range discounts {
		out = append(out, toDiscountResponse(d))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"discounts": out,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: len(out),
		},
	})
}

type createTaxRequest struct {
	DisplayName string `json:"displayName" validate:"required,max=250"`
	// PercentageBps is the rate in basis points, so 2150 means 21.50%.
	PercentageBps int32 `json:"percentageBps" validate:"required,gte=0,lte=10000"`
	Inclusive     bool  `json:"inclusive"`
	Active        *bool `json:"active"`
}

type taxResponse struct {
	ID            uuid.UUID `json:"id"`
	DisplayName   string    `json:"displayName"`
	PercentageBps int32     `json:"percentageBps"`
	Inclusive     bool      `json:"inclusive"`
	Active        bool      `json:"active"`
	TaxRateID     string    `json:"taxRateId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CreateTax handles POST /taxes.
func (h *Handler) CreateTax(w http.ResponseWriter, r *http.Request) {
	var req createTaxRequest
	if !h.decode(w, r, &req) {
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	t, err := h.Repo.CreateTax(r.Context(), store.CreateTaxParams{
		DisplayName: req.DisplayName,
		Bps:         req.PercentageBps,
		Inclusive:   req.Inclusive,
		Active:      active,
	})
	if err != nil {
		common.WriteError(w, common.Unexpected(err))
		return
	}
	common.JSON(w, http.StatusCreated, toTaxResponse(t))
}

// GetTax handles GET /taxes/{id}.
func (h *Handler) GetTax(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := h.Repo.GetTax(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "tax not found", nil)
		return
	}
	if err != nil {
		common.WriteError(w, common.Unexpected(err))
		return
	}
	common.JSON(w, http.StatusOK, toTaxResponse(t))
}

// ListTaxes handles GET /taxes.
func (h *Handler) ListTaxes(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20)
	taxes, err := h.Repo.ListTaxes(r.Context(), int32(perPage), int32((page-1)*perPage))
	if err != nil {
		common.WriteError(w, common.Unexpected(err))
		return
	}
	out := make([]taxResponse, 0, len(taxes))
	for _, t := range taxes {
		out = append(out, toTaxResponse(t))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"taxes": out,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: len(out),
		},
	})
}

func (h *Handler) itemResponse(item store.Item) itemResponse {
	return itemResponse{
		ID:           item.ID,
		Name:         item.Name,
		Description:  item.Description,
		Price:        item.Price,
		Currency:     credential.Canonical(item.Currency),
		DisplayPrice: money.Format(item.Price, item.Currency),
		CreatedAt:    item.CreatedAt,
	}
}

func toDiscountResponse(d store.Discount) discountResponse {
	return discountResponse{
		ID:         d.ID,
		Name:       d.Name,
		PercentOff: d.PercentOff,
		Active:     d.Active,
		CouponID:   d.CouponID,
		CreatedAt:  d.CreatedAt,
	}
}

func toTaxResponse(t store.Tax) taxResponse {
	return taxResponse{
		ID:            t.ID,
		DisplayName:   t.DisplayName,
		PercentageBps: t.Bps,
		Inclusive:     t.Inclusive,
		Active:        t.Active,
		TaxRateID:     t.RemoteID,
		CreatedAt:     t.CreatedAt,
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", nil)
		return false
	}
	if err := h.Validate.Struct(dst); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "request failed validation", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) any {
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return nil
	}
	details := make(map[string]string, len(invalid))
	for _, f := range invalid {
		details[f.Field()] = f.Tag()
	}
	return details
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
