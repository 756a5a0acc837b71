package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/honeynil/ParcelBidService/internal/infrastructure/auth"
	"github.com/honeynil/ParcelBidService/internal/models"
	service "github.com/honeynil/ParcelBidService/internal/services"
	pkgerrors "github.com/honeynil/ParcelBidService/pkg/errors"
	"github.com/shopspring/decimal"
)

type AuctionService interface {
	PlaceOrUpdateBid(ctx context.Context, req service.PlaceBidRequest) (*models.Bid, error)
	ListBidsForTrip(ctx context.Context, tripID int64) ([]models.TripBid, error)
	ListBidsForSender(ctx context.Context, senderID int64) ([]models.SenderBid, error)
	AcceptBid(ctx context.Context, bidID int64) (*models.AcceptResult, error)
	RejectBid(ctx context.Context, bidID int64) error
	GetRemainingCapacity(ctx context.Context, tripID int64) (decimal.Decimal, error)
}

type WalletService interface {
	GetBalance(ctx context.Context, userID int64) (int64, error)
	ListTransactions(ctx context.Context, userID int64, limit int) ([]models.Transaction, error)
	AddConnects(ctx context.Context, userID, amount int64) (int64, error)
	EarnConnects(ctx context.Context, userID, amount int64, description string) (int64, error)
	UseConnects(ctx context.Context, userID, amount int64, description string) (int64, error)
	VerifyBalance(ctx context.Context, userID int64) (int64, error)
}

type Handler struct {
	auction  AuctionService
	wallet   WalletService
	validate *validator.Validate
}

func NewHandler(auction AuctionService, wallet WalletService) *Handler {
	return &Handler{auction: auction, wallet: wallet, validate: validator.New()}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps an error category to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrValidation),
		errors.Is(err, pkgerrors.ErrAuctionRule),
		errors.Is(err, pkgerrors.ErrCapacity),
		errors.Is(err, pkgerrors.ErrInsufficientBalance):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.writeError(w, status, errors.New("internal server error"))
		return
	}
	h.writeError(w, status, err)
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the caller may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err)
		return false
	}
	return true
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
	}
	return userID, ok
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, errors.New(name+" must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/bids", h.PlaceBid).Methods(http.MethodPost)
	r.HandleFunc("/bids/user", h.GetUserBids).Methods(http.MethodGet)
	r.HandleFunc("/bids/user/balance", h.GetBalance).Methods(http.MethodGet)
	r.HandleFunc("/bids/trip/{tripId:[0-9]+}", h.GetTripBids).Methods(http.MethodGet)
	r.HandleFunc("/bids/{bidId:[0-9]+}/accept", h.AcceptBid).Methods(http.MethodPost)
	r.HandleFunc("/bids/{bidId:[0-9]+}/reject", h.RejectBid).Methods(http.MethodPost)
	r.HandleFunc("/trips/{tripId:[0-9]+}/capacity", h.GetCapacity).Methods(http.MethodGet)

	r.HandleFunc("/wallet", h.GetBalance).Methods(http.MethodGet)
	r.HandleFunc("/wallet/verify", h.VerifyBalance).Methods(http.MethodGet)
	r.HandleFunc("/wallet/transactions", h.GetTransactions).Methods(http.MethodGet)
	r.HandleFunc("/wallet/add", h.AddConnects).Methods(http.MethodPost)
	r.HandleFunc("/wallet/use", h.UseConnects).Methods(http.MethodPost)
	r.HandleFunc("/wallet/earn", h.EarnConnects).Methods(http.MethodPost)
}

type placeBidRequest struct {
	TripID int64 `json:"trip_id" validate:"required,gt=0"`
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req placeBidRequest
	if !h.decode(w, r, &req) {
		return
	}

	bid, err := h.auction.PlaceOrUpdateBid(r.Context(), service.PlaceBidRequest{
		TripID:    req.TripID,
		SenderID:  userID,
		Amount:    req.Amount,
		RequestID: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, bid)
}

func (h *Handler) GetUserBids(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	bids, err := h.auction.ListBidsForSender(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bids)
}

func (h *Handler) GetTripBids(w http.ResponseWriter, r *http.Request) {
	tripID, ok := h.pathID(w, r, "tripId")
	if !ok {
		return
	}
	bids, err := h.auction.ListBidsForTrip(r.Context(), tripID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bids)
}

func (h *Handler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	bidID, ok := h.pathID(w, r, "bidId")
	if !ok {
		return
	}
	result, err := h.auction.AcceptBid(r.Context(), bidID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) RejectBid(w http.ResponseWriter, r *http.Request) {
	bidID, ok := h.pathID(w, r, "bidId")
	if !ok {
		return
	}
	if err := h.auction.RejectBid(r.Context(), bidID); err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(models.BidRejected)})
}

func (h *Handler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	tripID, ok := h.pathID(w, r, "tripId")
	if !ok {
		return
	}
	remaining, err := h.auction.GetRemainingCapacity(r.Context(), tripID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"trip_id": tripID, "remaining_capacity": remaining})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	balance, err := h.wallet.GetBalance(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

// VerifyBalance reads the balance without the cache and checks it against
// the ledger. Drift answers 409 so operators can tell it from an outage.
func (h *Handler) VerifyBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	balance, err := h.wallet.VerifyBalance(r.Context(), userID)
	if errors.Is(err, pkgerrors.ErrLedgerDrift) {
		h.writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"balance": balance, "consistent": true})
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	txs, err := h.wallet.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

type addConnectsRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

type walletDescribedRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description" validate:"required,max=255"`
}

func (h *Handler) AddConnects(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req addConnectsRequest
	if !h.decode(w, r, &req) {
		return
	}
	balance, err := h.wallet.AddConnects(r.Context(), userID, req.Amount)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) UseConnects(w http.ResponseWriter, r *http.Request) {
	h.walletChange(w, r, h.wallet.UseConnects)
}

func (h *Handler) EarnConnects(w http.ResponseWriter, r *http.Request) {
	h.walletChange(w, r, h.wallet.EarnConnects)
}

func (h *Handler) walletChange(w http.ResponseWriter, r *http.Request, apply func(context.Context, int64, int64, string) (int64, error)) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req walletDescribedRequest
	if !h.decode(w, r, &req) {
		return
	}
	balance, err := apply(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}
