package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/pos"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.signUpLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many sign-up attempts"))
		return
	}

	var req domain.SignUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := a.auth.SignUp(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"session": sessionFrom(r)})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.CreateProduct(r.Context(), sessionFrom(r), req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.UpdateProduct(r.Context(), sessionFrom(r), chi.URLParam(r, "productID"), req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleListKiosks(w http.ResponseWriter, r *http.Request) {
	kiosks, err := a.service.ListKiosks(r.Context(), sessionFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kiosks": kiosks})
}

func (a *API) handleMyKiosks(w http.ResponseWriter, r *http.Request) {
	kiosks, err := a.service.VendorKiosks(r.Context(), sessionFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kiosks": kiosks})
}

func (a *API) handleCreateKiosk(w http.ResponseWriter, r *http.Request) {
	var req domain.KioskCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	kiosk, err := a.service.CreateKiosk(r.Context(), sessionFrom(r), req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"kiosk": kiosk})
}

func (a *API) handleAssignVendor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VendorID string `json:"vendor_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	kiosk, err := a.service.AssignVendor(r.Context(), sessionFrom(r), chi.URLParam(r, "kioskID"), req.VendorID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kiosk": kiosk})
}

func (a *API) handleKioskInventory(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.KioskInventory(r.Context(), sessionFrom(r), chi.URLParam(r, "kioskID"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleReplenish(w http.ResponseWriter, r *http.Request) {
	var req domain.ReplenishRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	record, err := a.service.Replenish(r.Context(), sessionFrom(r), chi.URLParam(r, "kioskID"), req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": record})
}

func (a *API) handleRemoveInventory(w http.ResponseWriter, r *http.Request) {
	err := a.service.RemoveInventory(r.Context(), sessionFrom(r), chi.URLParam(r, "kioskID"), chi.URLParam(r, "productID"))
	if err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStockOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := a.service.StockOverview(r.Context(), sessionFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": overview})
}

func (a *API) handleListVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := a.service.ListVendors(r.Context(), sessionFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vendors": vendors})
}

func (a *API) handleSearchCustomers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	customers, err := a.service.SearchCustomers(r.Context(), q.Get("q"), parsePositiveLimit(q.Get("limit"), 10, 20))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	customer, err := a.service.CreateCustomer(r.Context(), sessionFrom(r), req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handlePOSOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KioskID string `json:"kiosk_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	term := a.terminals.Terminal(sessionFrom(r))
	items, err := term.Open(r.Context(), req.KioskID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "cart": term.View()})
}

func (a *API) handlePOSInventory(w http.ResponseWriter, r *http.Request) {
	items, err := a.terminals.Terminal(sessionFrom(r)).Refresh(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCartView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cart": a.terminals.Terminal(sessionFrom(r)).View()})
}

func (a *API) handleCartAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecordID string `json:"record_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := a.terminals.Terminal(sessionFrom(r)).Add(req.RecordID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCartRemove(w http.ResponseWriter, r *http.Request) {
	view, err := a.terminals.Terminal(sessionFrom(r)).Remove(chi.URLParam(r, "recordID"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCartClear(w http.ResponseWriter, r *http.Request) {
	view, err := a.terminals.Terminal(sessionFrom(r)).Clear()
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req pos.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	term := a.terminals.Terminal(sessionFrom(r))
	committed, err := term.Checkout(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": committed, "cart": term.View()})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseTime(q.Get("to"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sales, err := a.service.ListSales(r.Context(), sessionFrom(r), domain.SaleFilter{
		KioskID:  q.Get("kiosk_id"),
		VendorID: q.Get("vendor_id"),
		From:     from,
		To:       to,
		Limit:    parsePositiveLimit(q.Get("limit"), 50, 500),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	found, err := a.service.GetSale(r.Context(), sessionFrom(r), chi.URLParam(r, "saleID"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": found})
}
