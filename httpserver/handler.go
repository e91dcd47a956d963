package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medicrypt/record-access-backend/api"
	"github.com/medicrypt/record-access-backend/interfaces"
	"github.com/medicrypt/record-access-backend/metrics"
	"github.com/medicrypt/record-access-backend/sigauth"
)

const (
	// maxBodySize bounds JSON request bodies (1MB).
	maxBodySize = 1024 * 1024

	// maxBlobSize bounds ciphertext blob uploads (32MB).
	maxBlobSize = 32 * 1024 * 1024
)

// Handler processes HTTP requests for the record access service. Writes go
// to the authorization registry, listings come from the mirror, and blob
// endpoints proxy opaque ciphertext to the configured storage backend.
type Handler struct {
	auth     *sigauth.Authenticator
	registry interfaces.AuthorizationRegistry
	mirror   interfaces.MirrorStore
	blobs    interfaces.BlobBackend
	metrics  *metrics.MetricsServer
	log      *slog.Logger
}

// NewHandler creates a request handler with the given dependencies.
func NewHandler(auth *sigauth.Authenticator, registry interfaces.AuthorizationRegistry, mirror interfaces.MirrorStore, blobs interfaces.BlobBackend, log *slog.Logger) *Handler {
	return &Handler{
		auth:     auth,
		registry: registry,
		mirror:   mirror,
		blobs:    blobs,
		log:      log,
	}
}

// HandleLogin verifies a signed challenge and issues a session credential.
//
// POST /api/auth/login
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, session, err := h.auth.Authenticate(r.Context(), req.WalletAddress, req.Message, req.Signature)
	if err != nil {
		if sigauth.IsAuthError(err) {
			h.log.Info("Login rejected", "wallet", req.WalletAddress, "err", err)
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.log.Error("Login failed", "err", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, api.LoginResponse{
		Token:    token,
		Identity: session.Identity.String(),
		Role:     session.Role,
	})
}

// HandleRegisterRecord creates a record for the authenticated owner.
//
// POST /api/records
func (h *Handler) HandleRegisterRecord(w http.ResponseWriter, r *http.Request) {
	session, ok := sigauth.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	var req api.RegisterRecordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := h.registry.RegisterRecord(r.Context(), session.Identity, interfaces.RegisterParams{
		ContentAddress:  req.ContentAddress,
		ContentDigest:   req.ContentDigest,
		FileName:        req.FileName,
		OwnerWrappedKey: req.OwnerWrappedKey,
	})
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RegistryMutations.WithLabelValues(string(interfaces.EventRecordRegistered)).Inc()
	}
	h.writeJSON(w, http.StatusCreated, record)
}

// HandleDeactivateRecord performs the one-way record deactivation.
//
// POST /api/records/{address}/deactivate
func (h *Handler) HandleDeactivateRecord(w http.ResponseWriter, r *http.Request) {
	session, ok := sigauth.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	address, err := interfaces.NewEntityAddressFromHex(chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid record address")
		return
	}

	record, err := h.registry.DeactivateRecord(r.Context(), session.Identity, address)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RegistryMutations.WithLabelValues(string(interfaces.EventRecordDeactivated)).Inc()
	}
	h.writeJSON(w, http.StatusOK, record)
}

// HandleGrantAccess creates or refreshes a grant on an owned record.
//
// POST /api/records/{address}/grants
func (h *Handler) HandleGrantAccess(w http.ResponseWriter, r *http.Request) {
	session, ok := sigauth.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	address, err := interfaces.NewEntityAddressFromHex(chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid record address")
		return
	}

	var req api.GrantAccessRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	requester, err := interfaces.NewIdentityFromString(req.Requester)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid requester identity")
		return
	}

	grant, err := h.registry.GrantAccess(r.Context(), session.Identity, address, requester, req.WrappedKey)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RegistryMutations.WithLabelValues(string(interfaces.EventAccessGranted)).Inc()
	}
	h.writeJSON(w, http.StatusOK, grant)
}

// HandleRevokeAccess revokes a requester's grant on an owned record.
//
// POST /api/records/{address}/grants/{requester}/revoke
func (h *Handler) HandleRevokeAccess(w http.ResponseWriter, r *http.Request) {
	session, ok := sigauth.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	address, err := interfaces.NewEntityAddressFromHex(chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid record address")
		return
	}

	requester, err := interfaces.NewIdentityFromString(chi.URLParam(r, "requester"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid requester identity")
		return
	}

	grant, err := h.registry.RevokeAccess(r.Context(), session.Identity, address, requester)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RegistryMutations.WithLabelValues(string(interfaces.EventAccessRevoked)).Inc()
	}
	h.writeJSON(w, http.StatusOK, grant)
}

// HandleListOwned lists the caller's active records from the mirror.
//
// GET /api/records
func (h *Handler) HandleListOwned(w http.ResponseWriter, r *http.Request) {
	session, ok := sigauth.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	records, err := h.mirror.ListOwnedActiveRecords(r.Context(), session.Identity)
	if err != nil {
		h.log.Error("Owned records query failed", "err", err)
		h.writeError(w, http.StatusServiceUnavailable, "listing temporarily unavailable")
		return
	}
	if records == nil {
		records = []interfaces.Record{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

// HandleListShared lists records shared with the caller from the mirror.
//
// GET /api/shared
func (h *Handler) HandleListShared(w http.ResponseWriter, r *http.Request) {
	session, ok := sigauth.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	shared, err := h.mirror.ListGrantedActiveRecords(r.Context(), session.Identity)
	if err != nil {
		h.log.Error("Shared records query failed", "err", err)
		h.writeError(w, http.StatusServiceUnavailable, "listing temporarily unavailable")
		return
	}
	if shared == nil {
		shared = []interfaces.SharedRecord{}
	}
	h.writeJSON(w, http.StatusOK, shared)
}

// HandleListAll lists every record projection. Auditor role only; auditors
// see metadata and wrapped keys they cannot unwrap, never plaintext.
//
// GET /api/audit/records
func (h *Handler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	session, ok := sigauth.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}
	if session.Role != interfaces.RoleAuditor {
		h.writeError(w, http.StatusForbidden, "auditor role required")
		return
	}

	records, err := h.mirror.ListAllRecords(r.Context())
	if err != nil {
		h.log.Error("Audit listing failed", "err", err)
		h.writeError(w, http.StatusServiceUnavailable, "listing temporarily unavailable")
		return
	}
	if records == nil {
		records = []interfaces.Record{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

// HandleUploadBlob stores an opaque ciphertext blob and returns its content
// address. The body is ciphertext end to end; the server never inspects it.
//
// POST /api/blobs
func (h *Handler) HandleUploadBlob(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBlobSize)
	ciphertext, err := io.ReadAll(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "could not read blob body")
		return
	}
	if len(ciphertext) == 0 {
		h.writeError(w, http.StatusBadRequest, "empty blob body")
		return
	}

	address, err := h.blobs.Upload(r.Context(), ciphertext)
	if err != nil {
		h.log.Error("Blob upload failed", "err", err)
		h.writeError(w, http.StatusServiceUnavailable, "blob storage unavailable")
		return
	}

	if h.metrics != nil {
		h.metrics.BlobBytes.WithLabelValues("upload").Add(float64(len(ciphertext)))
	}
	h.writeJSON(w, http.StatusCreated, api.UploadBlobResponse{
		ContentAddress: address,
		Size:           len(ciphertext),
	})
}

// HandleDownloadBlob returns the ciphertext stored at a content address.
//
// GET /api/blobs/{contentAddress}
func (h *Handler) HandleDownloadBlob(w http.ResponseWriter, r *http.Request) {
	contentAddress := chi.URLParam(r, "contentAddress")
	if contentAddress == "" {
		h.writeError(w, http.StatusBadRequest, "missing content address")
		return
	}

	ciphertext, err := h.blobs.Download(r.Context(), contentAddress)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrContentNotFound):
			h.writeError(w, http.StatusNotFound, "blob not found")
		case errors.Is(err, interfaces.ErrBackendUnavailable):
			h.writeError(w, http.StatusServiceUnavailable, "blob storage unavailable")
		default:
			h.log.Error("Blob download failed", "err", err)
			h.writeError(w, http.StatusServiceUnavailable, "blob storage unavailable")
		}
		return
	}

	if h.metrics != nil {
		h.metrics.BlobBytes.WithLabelValues("download").Add(float64(len(ciphertext)))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(ciphertext)
}

// writeRegistryError maps registry errors onto HTTP statuses. Deterministic
// rejections keep their message; infrastructure failures get a generic one.
func (h *Handler) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrMalformedInput), errors.Is(err, interfaces.ErrFieldTooLong):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, interfaces.ErrUnauthorizedOwner):
		h.writeError(w, http.StatusForbidden, "caller is not the record owner")
	case errors.Is(err, interfaces.ErrRecordNotFound), errors.Is(err, interfaces.ErrGrantNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, interfaces.ErrDuplicateRecord),
		errors.Is(err, interfaces.ErrAlreadyInactive),
		errors.Is(err, interfaces.ErrRecordNotActive),
		errors.Is(err, interfaces.ErrGrantNotActive):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("Registry operation failed", "err", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, api.ErrorResponse{Error: message})
}
