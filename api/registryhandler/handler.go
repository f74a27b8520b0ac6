package registryhandler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"github.com/ruteri/tdx-identity-backend/cryptoutils"
	"github.com/ruteri/tdx-identity-backend/interfaces"
)

// maxBodySize is the maximum allowed request body size (1MB). Quotes are a
// few KB; anything near the limit is garbage.
const maxBodySize = 1024 * 1024

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	InstancePubkey cryptoutils.Pubkey    `json:"instance_pubkey"`
	Quote          hexutil.Bytes         `json:"quote"`
	OperatorPubkey cryptoutils.Pubkey    `json:"operator_pubkey"`
	Signature      cryptoutils.Signature `json:"signature"`
}

// AttachOwnerRequest is the body of POST /attach_owner.
type AttachOwnerRequest struct {
	InstancePubkey cryptoutils.Pubkey    `json:"instance_pubkey"`
	OwnerPubkey    cryptoutils.Pubkey    `json:"owner_pubkey"`
	Signature      cryptoutils.Signature `json:"signature"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the registration ledger API.
type Handler struct {
	ledger interfaces.RegistrationLedger
	log    *slog.Logger
}

// NewHandler creates an HTTP handler over a ledger.
func NewHandler(ledger interfaces.RegistrationLedger, log *slog.Logger) *Handler {
	return &Handler{ledger: ledger, log: log}
}

// RegisterRoutes mounts the ledger API on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.HandleRegister)
	r.Post("/attach_owner", h.HandleAttachOwner)
	r.Get("/instance/{pubkey}", h.HandleLookup)
}

func writeError(w http.ResponseWriter, err error) {
	status := interfaces.HTTPStatus(err)
	msg := err.Error()
	if kind := interfaces.ErrorKind(err); kind != nil {
		msg = kind.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"success"}`))
}

// HandleRegister processes attested instance registrations.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.ledger.Register(r.Context(), req.InstancePubkey, req.Quote, req.OperatorPubkey, req.Signature); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

// HandleAttachOwner binds an owner key to an existing entry.
func (h *Handler) HandleAttachOwner(w http.ResponseWriter, r *http.Request) {
	var req AttachOwnerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.ledger.AttachOwner(r.Context(), req.InstancePubkey, req.OwnerPubkey, req.Signature); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

// HandleLookup returns the ledger entry for an instance public key given as
// hex in the URL path.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	pubkey, err := cryptoutils.NewPubkeyFromHex(chi.URLParam(r, "pubkey"))
	if err != nil {
		http.Error(w, "invalid public key", http.StatusBadRequest)
		return
	}

	entry, err := h.ledger.Lookup(r.Context(), pubkey)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}
