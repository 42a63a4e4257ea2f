package http

const (
	sessionHeader = "X-GMGN-Session"

	HTTPErrorMethodNotAllowedText = "method not allowed"
	HTTPErrorInvalidJSONText      = "invalid JSON"
	HTTPErrorForbiddenText        = "forbidden"
	HTTPErrorForbiddenHostText    = "forbidden host"
	HTTPErrorForbiddenOriginText  = "forbidden origin"
	HTTPErrorUnauthorizedText     = "unauthorized"

	DraftMissingText = "no draft"

	corsMaxAgeSeconds = 600
	qrCodeSizePx      = 256
	balanceDecimals   = 6
)

// Error codes returned in the "code" field.
const (
	CodeBadRequest         = "bad_request"
	CodeNotStarted         = "not_started"
	CodeWalletExists       = "wallet_exists"
	CodeWalletCreation     = "wallet_creation_failed"
	CodeNoHandle           = "no_handle_available"
	CodeHandleNotFound     = "handle_not_found"
	CodeAuthentication     = "authentication_failed"
	CodeNotUnlocked        = "not_unlocked"
	CodeChallengeInFlight  = "challenge_in_flight"
	CodeBalanceUnavailable = "balance_unavailable"
	CodeNetworkChanged     = "network_changed"
	CodeEstimation         = "estimation_failed"
	CodeEstimateNotReady   = "estimate_not_ready"
	CodeDraftBusy          = "draft_busy"
	CodeDraftKind          = "draft_kind"
	CodeNoDraft            = "no_draft"
	CodeUserCancelled      = "user_cancelled"
	CodeNodeRejected       = "node_rejected"
	CodeNetworkUnavailable = "network_unavailable"
	CodeInternal           = "internal"
)
