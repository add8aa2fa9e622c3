// Package api exposes the block builder's external surface as plain
// net/http handlers over a Storage. It does no framing beyond what
// net/http and encoding/json already give it: no middleware stack,
// no router dependency, one ServeMux.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/empower1/block-builder/internal/model"
	"github.com/empower1/block-builder/internal/storage"
)

// Server wires a Storage into the block builder's HTTP surface.
type Server struct {
	store storage.Storage
	log   *zap.SugaredLogger
}

func NewServer(store storage.Storage, log *zap.SugaredLogger) *Server {
	return &Server{store: store, log: log.Named("api")}
}

// Routes registers the block builder's handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/block-builder/status", s.handleStatus)
	mux.HandleFunc("/block-builder/tx-request", s.handleTxRequest)
	mux.HandleFunc("/block-builder/query-proposal", s.handleQueryProposal)
	mux.HandleFunc("/block-builder/post-signature", s.handlePostSignature)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("api: GET only"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

type txRequestBody struct {
	IsRegistrationBlock bool            `json:"is_registration_block"`
	RequestID           string          `json:"request_id"`
	PubKey              model.PubKey    `json:"pubkey"`
	AccountID           *uint64         `json:"account_id,omitempty"`
	TransferTreeRoot    model.Digest32  `json:"transfer_tree_root"`
	Nonce               uint64          `json:"nonce"`
	FeeProof            json.RawMessage `json:"fee_proof,omitempty"`
}


func (s *Server) handleTxRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("api: POST only"))
		return
	}

	var body txRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req := model.TxRequest{
		RequestID: body.RequestID,
		PubKey:    body.PubKey,
		AccountID: body.AccountID,
		Tx:        model.Tx{TransferTreeRoot: body.TransferTreeRoot, Nonce: body.Nonce},
	}
	if len(body.FeeProof) > 0 {
		req.FeeProof = &model.FeeProof{Payload: body.FeeProof}
	}

	if err := s.store.AddTx(r.Context(), body.IsRegistrationBlock, req); err != nil {
		s.writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": body.RequestID})
}

type queryProposalBody struct {
	RequestID string `json:"request_id"`
}

func (s *Server) handleQueryProposal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("api: POST only"))
		return
	}

	var body queryProposalBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	proposal, err := s.store.QueryProposal(r.Context(), body.RequestID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

type postSignatureBody struct {
	RequestID string              `json:"request_id"`
	Signature model.UserSignature `json:"signature"`
}

func (s *Server) handlePostSignature(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("api: POST only"))
		return
	}

	var body postSignatureBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.store.AddSignature(r.Context(), body.RequestID, body.Signature); err != nil {
		s.writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"request_id": body.RequestID})
}

// writeStorageError maps the storage package's sentinel errors to their
// client-facing status code. Everything else is a 500: the caller didn't
// do anything wrong, the builder did.
func (s *Server) writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrDuplicateRequest),
		errors.Is(err, storage.ErrFeeProofRequired),
		errors.Is(err, storage.ErrAccountAlreadyRegistered),
		errors.Is(err, storage.ErrAccountNotFound),
		errors.Is(err, storage.ErrSignatureVerification):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, storage.ErrUnknownRequest),
		errors.Is(err, storage.ErrProposalNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrProposalNotReady):
		writeError(w, http.StatusAccepted, err)
	default:
		s.log.Errorw("unexpected storage error", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
