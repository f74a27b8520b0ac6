package identityhandler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ruteri/tdx-identity-backend/cryptoutils"
	"github.com/ruteri/tdx-identity-backend/identity"
	"github.com/ruteri/tdx-identity-backend/interfaces"
)

const maxBodySize = 1024 * 1024

// RegisterOperatorRequest is the body of POST /operator/register.
type RegisterOperatorRequest struct {
	OperatorPubkey cryptoutils.Pubkey    `json:"operator_pubkey"`
	Signature      cryptoutils.Signature `json:"signature"`
}

// RegisterOperatorResponse carries the derived one-shot owner token.
type RegisterOperatorResponse struct {
	OwnerToken string `json:"owner_token"`
}

// RegisterOwnerRequest is the body of POST /owner/register.
type RegisterOwnerRequest struct {
	OwnerPubkey cryptoutils.Pubkey    `json:"owner_pubkey"`
	OwnerToken  string                `json:"owner_token"`
	Signature   cryptoutils.Signature `json:"signature"`
}

// ConfigureWorkloadRequest is the body of POST /workload/configure.
type ConfigureWorkloadRequest struct {
	Descriptor interfaces.WorkloadDescriptor `json:"descriptor"`
	Signature  cryptoutils.Signature         `json:"signature"`
}

// ExposeWorkloadRequest is the body of POST /workload/expose.
type ExposeWorkloadRequest struct {
	Signature cryptoutils.Signature `json:"signature"`
}

// PubkeyResponse is the body of GET /instance/pubkey.
type PubkeyResponse struct {
	Pubkey cryptoutils.Pubkey `json:"pubkey"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the identity service API over the state machine.
type Handler struct {
	machine *identity.Machine
	log     *slog.Logger
}

// NewHandler creates an HTTP handler over the state machine.
func NewHandler(machine *identity.Machine, log *slog.Logger) *Handler {
	return &Handler{machine: machine, log: log}
}

// RegisterRoutes mounts the identity API on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/instance/pubkey", h.HandlePubkey)
	r.Post("/operator/register", h.HandleRegisterOperator)
	r.Post("/owner/register", h.HandleRegisterOwner)
	r.Post("/workload/configure", h.HandleConfigureWorkload)
	r.Post("/workload/expose", h.HandleExposeWorkload)
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

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// HandlePubkey returns the instance public key. Always available.
func (h *Handler) HandlePubkey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, PubkeyResponse{Pubkey: h.machine.InstancePubkey()})
}

// HandleRegisterOperator drives the operator-registration transition.
func (h *Handler) HandleRegisterOperator(w http.ResponseWriter, r *http.Request) {
	var req RegisterOperatorRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token, err := h.machine.RegisterOperator(r.Context(), req.OperatorPubkey, req.Signature)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, RegisterOperatorResponse{OwnerToken: token.String()})
}

// HandleRegisterOwner drives the owner-registration transition.
func (h *Handler) HandleRegisterOwner(w http.ResponseWriter, r *http.Request) {
	var req RegisterOwnerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token, err := cryptoutils.ParseOwnerToken(req.OwnerToken)
	if err != nil {
		writeError(w, interfaces.ErrBadToken)
		return
	}

	if err := h.machine.RegisterOwner(r.Context(), req.OwnerPubkey, token, req.Signature); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

// HandleConfigureWorkload drives the workload-configuration transition.
func (h *Handler) HandleConfigureWorkload(w http.ResponseWriter, r *http.Request) {
	var req ConfigureWorkloadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.machine.ConfigureWorkload(r.Context(), req.Descriptor, req.Signature); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

// HandleExposeWorkload drives the terminal expose transition.
func (h *Handler) HandleExposeWorkload(w http.ResponseWriter, r *http.Request) {
	var req ExposeWorkloadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.machine.ExposeWorkload(r.Context(), req.Signature); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}
