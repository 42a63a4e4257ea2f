package http

import (
	"errors"
	"net/http"

	"github.com/quantumauth-io/gmgn-wallet/internal/broker"
	"github.com/quantumauth-io/gmgn-wallet/internal/session"
	"github.com/quantumauth-io/gmgn-wallet/internal/vault"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: wrapped errors match the first entry in their chain.
var errorMappings = []errorMapping{
	{session.ErrNotStarted, http.StatusConflict, CodeNotStarted},
	{session.ErrWalletExists, http.StatusConflict, CodeWalletExists},
	{session.ErrWalletCreationFailed, http.StatusUnprocessableEntity, CodeWalletCreation},
	{session.ErrNoHandleAvailable, http.StatusNotFound, CodeNoHandle},
	{vault.ErrHandleNotFound, http.StatusNotFound, CodeHandleNotFound},
	{vault.ErrAuthentication, http.StatusUnauthorized, CodeAuthentication},
	{session.ErrNotUnlocked, http.StatusConflict, CodeNotUnlocked},
	{session.ErrChallengeInFlight, http.StatusConflict, CodeChallengeInFlight},
	{session.ErrBalanceUnavailable, http.StatusServiceUnavailable, CodeBalanceUnavailable},
	{session.ErrNetworkChanged, http.StatusConflict, CodeNetworkChanged},
	{broker.ErrEstimation, http.StatusUnprocessableEntity, CodeEstimation},
	{broker.ErrEstimateNotReady, http.StatusPreconditionFailed, CodeEstimateNotReady},
	{broker.ErrEstimateInFlight, http.StatusConflict, CodeDraftBusy},
	{broker.ErrSubmitInFlight, http.StatusConflict, CodeDraftBusy},
	{broker.ErrDraftKind, http.StatusBadRequest, CodeDraftKind},
	{errNoDraft, http.StatusNotFound, CodeNoDraft},
	{session.ErrKeyMismatch, http.StatusConflict, CodeAuthentication},
}

var submissionMappings = map[broker.SubmissionKind]errorMapping{
	broker.UserCancelled:      {status: http.StatusConflict, code: CodeUserCancelled},
	broker.NodeRejected:       {status: http.StatusUnprocessableEntity, code: CodeNodeRejected},
	broker.NetworkUnavailable: {status: http.StatusServiceUnavailable, code: CodeNetworkUnavailable},
}

func classify(err error) (int, string) {
	if kind, ok := broker.SubmissionKindOf(err); ok {
		m := submissionMappings[kind]
		return m.status, m.code
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", code, "error", err)
	}
	writeJSON(w, status, apiResponse{Code: code, Error: err.Error()})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, apiResponse{Code: CodeBadRequest, Error: msg})
}
