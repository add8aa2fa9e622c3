package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/empower1/block-builder/internal/model"
	"github.com/empower1/block-builder/internal/storage"
)

func newTestServer() (*Server, *storage.MemoryStorage) {
	cfg := storage.Config{
		AcceptingTxInterval:    10 * time.Millisecond,
		ProposingBlockInterval: 10 * time.Millisecond,
		TxTimeout:              time.Second,
	}
	store := storage.NewMemoryStorage(cfg, zap.NewNop().Sugar())
	return NewServer(store, zap.NewNop().Sugar()), store
}

func newMux(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	s.Routes(mux)
	return mux
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer()
	mux := newMux(s)

	req := httptest.NewRequest(http.MethodGet, "/block-builder/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleTxRequest_AcceptsAndRejectsDuplicate(t *testing.T) {
	s, _ := newTestServer()
	mux := newMux(s)

	var pubkey model.PubKey
	pubkey[31] = 7
	body, err := json.Marshal(txRequestBody{
		IsRegistrationBlock: true,
		RequestID:           "r1",
		PubKey:              pubkey,
		Nonce:               1,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/block-builder/tx-request", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/block-builder/tx-request", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestHandleQueryProposal_NotReadyThenReady(t *testing.T) {
	s, store := newTestServer()
	mux := newMux(s)

	var pubkey model.PubKey
	pubkey[31] = 9
	body, err := json.Marshal(txRequestBody{IsRegistrationBlock: true, RequestID: "r1", PubKey: pubkey})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/block-builder/tx-request", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	queryBody, err := json.Marshal(queryProposalBody{RequestID: "r1"})
	require.NoError(t, err)

	notReady := httptest.NewRequest(http.MethodPost, "/block-builder/query-proposal", bytes.NewReader(queryBody))
	notReadyRec := httptest.NewRecorder()
	mux.ServeHTTP(notReadyRec, notReady)
	assert.Equal(t, http.StatusAccepted, notReadyRec.Code)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.ProcessRequests(req.Context(), true))

	ready := httptest.NewRequest(http.MethodPost, "/block-builder/query-proposal", bytes.NewReader(queryBody))
	readyRec := httptest.NewRecorder()
	mux.ServeHTTP(readyRec, ready)
	assert.Equal(t, http.StatusOK, readyRec.Code)

	var proposal model.BlockProposal
	require.NoError(t, json.NewDecoder(readyRec.Body).Decode(&proposal))
	assert.NotZero(t, proposal.Expiry)
}

func TestHandlePostSignature_UnknownRequestReturnsNotFound(t *testing.T) {
	s, _ := newTestServer()
	mux := newMux(s)

	body, err := json.Marshal(postSignatureBody{RequestID: "does-not-exist"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/block-builder/post-signature", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePostSignature_UnverifiableSignatureReturnsBadRequest(t *testing.T) {
	s, store := newTestServer()
	mux := newMux(s)

	var pubkey model.PubKey
	pubkey[31] = 3
	txBody, err := json.Marshal(txRequestBody{IsRegistrationBlock: true, RequestID: "r1", PubKey: pubkey})
	require.NoError(t, err)
	txReq := httptest.NewRequest(http.MethodPost, "/block-builder/tx-request", bytes.NewReader(txBody))
	txRec := httptest.NewRecorder()
	mux.ServeHTTP(txRec, txReq)
	require.Equal(t, http.StatusAccepted, txRec.Code)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.ProcessRequests(txReq.Context(), true))

	sigBody, err := json.Marshal(postSignatureBody{
		RequestID: "r1",
		Signature: model.UserSignature{PubKey: pubkey, Signature: [96]byte{9, 9, 9}},
	})
	require.NoError(t, err)

	sigReq := httptest.NewRequest(http.MethodPost, "/block-builder/post-signature", bytes.NewReader(sigBody))
	sigRec := httptest.NewRecorder()
	mux.ServeHTTP(sigRec, sigReq)
	assert.Equal(t, http.StatusBadRequest, sigRec.Code)
}

func TestHandleTxRequest_RejectsWrongMethod(t *testing.T) {
	s, _ := newTestServer()
	mux := newMux(s)

	req := httptest.NewRequest(http.MethodGet, "/block-builder/tx-request", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
