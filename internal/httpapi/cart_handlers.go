package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/sales"
)

type cartView struct {
	ID                string            `json:"id"`
	Lines             []domain.CartLine `json:"lines"`
	ItemsCount        int               `json:"items_count"`
	Currency          string            `json:"currency"`
	Subtotal          decimal.Decimal   `json:"subtotal"`
	FormattedSubtotal string            `json:"formatted_subtotal"`
	Form              domain.OrderForm  `json:"form"`
}

func newCartView(cart domain.Cart) cartView {
	lines := cart.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return cartView{
		ID:                cart.ID,
		Lines:             lines,
		ItemsCount:        cart.ItemsCount(),
		Currency:          cart.CurrencyCode(),
		Subtotal:          cart.Subtotal(),
		FormattedSubtotal: cart.FormattedSubtotal(),
		Form:              cart.Form,
	}
}

type sessionView struct {
	ActiveCartID string   `json:"active_cart_id"`
	CartIDs      []string `json:"cart_ids"`
}

func (h *Handler) getSession(w http.ResponseWriter, _ *http.Request) {
	respondData(w, http.StatusOK, "", sessionView{
		ActiveCartID: h.sales.ActiveCartID(),
		CartIDs:      h.sales.CartIDs(),
	})
}

type activeCartRequest struct {
	CartID string `json:"cart_id"`
}

func (h *Handler) setActiveCart(w http.ResponseWriter, r *http.Request) {
	var req activeCartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := h.sales.SetActiveCart(r.Context(), req.CartID); err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", newCartView(h.sales.ActiveCart()))
}

func (h *Handler) getCart(w http.ResponseWriter, _ *http.Request) {
	respondData(w, http.StatusOK, "", newCartView(h.sales.ActiveCart()))
}

type addItemRequest struct {
	ProductID int64 `json:"product_id"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if h.catalog == nil {
		writeError(w, domain.ErrProductNotFound)
		return
	}

	product, err := h.catalog.Product(r.Context(), req.ProductID)
	if err != nil {
		writeError(w, err)
		return
	}
	cart, err := h.sales.AddItem(r.Context(), product)
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", newCartView(cart))
}

func (h *Handler) decreaseItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	cart, err := h.sales.DecreaseItem(r.Context(), productID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", newCartView(cart))
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	cart, err := h.sales.RemoveItem(r.Context(), productID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", newCartView(cart))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.sales.ClearCart(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "cart cleared", newCartView(cart))
}

type setCustomerRequest struct {
	CustomerID *int64 `json:"customer_id"`
}

func (h *Handler) setCustomer(w http.ResponseWriter, r *http.Request) {
	var req setCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	var customer *domain.Customer
	if req.CustomerID != nil {
		if h.catalog == nil {
			writeError(w, domain.ErrCustomerNotFound)
			return
		}
		found, err := h.catalog.Customer(r.Context(), *req.CustomerID)
		if err != nil {
			writeError(w, err)
			return
		}
		customer = &found
	}

	cart, err := h.sales.SetActiveCustomer(r.Context(), customer)
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", newCartView(cart))
}

type createCustomerResponse struct {
	Customer domain.Customer `json:"customer"`
	Cart     cartView        `json:"cart"`
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	customer, err := h.sales.CreateCustomer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.catalog != nil {
		h.catalog.Remember(customer)
	}
	respondData(w, http.StatusCreated, "customer created", createCustomerResponse{
		Customer: customer,
		Cart:     newCartView(h.sales.ActiveCart()),
	})
}

type paymentMethodRequest struct {
	Method string `json:"method"`
}

func (h *Handler) setPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req paymentMethodRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	cart, err := h.sales.SetPaymentMethod(r.Context(), req.Method)
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", newCartView(cart))
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	cart, err := h.sales.AddPaymentMethod(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", newCartView(cart))
}

type splitPaymentRequest struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) updatePayment(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	var req splitPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	cart, err := h.sales.UpdateSplitPayment(r.Context(), index, req.Method, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", newCartView(cart))
}

func (h *Handler) removePayment(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	cart, err := h.sales.RemovePaymentMethod(r.Context(), index)
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", newCartView(cart))
}

type noteRequest struct {
	Note string `json:"note"`
}

func (h *Handler) setNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	cart, err := h.sales.SetNote(r.Context(), req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", newCartView(cart))
}

// submitOrder отвечает 201 на подтверждённую продажу и 202 на отложенную.
func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request) {
	result, err := h.sales.SubmitOrder(r.Context())
	if errors.Is(err, sales.ErrOrderQueued) {
		respondData(w, http.StatusAccepted, "order saved as pending and will be synced later", result)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusCreated, "order created", result)
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product id must be a positive integer")
		return 0, false
	}
	return id, true
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		respondError(w, http.StatusBadRequest, "invalid_index", "payment index must be a non-negative integer")
		return 0, false
	}
	return index, true
}
