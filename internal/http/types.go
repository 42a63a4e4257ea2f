package http

import (
	"github.com/quantumauth-io/gmgn-wallet/internal/broker"
	"github.com/quantumauth-io/gmgn-wallet/internal/session"
)

type apiResponse struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type createWalletReq struct {
	Name string `json:"name"`
}

type networkReq struct {
	Network string `json:"network"`
}

type availableNetworksReq struct {
	Networks []string `json:"networks"`
}

type draftReq struct {
	Kind    string `json:"kind"`
	To      string `json:"to"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

type draftPatchReq struct {
	To      *string `json:"to,omitempty"`
	Value   *string `json:"value,omitempty"`
	Message *string `json:"message,omitempty"`
}

type signReq struct {
	Message string `json:"message"`
}

type statusResp struct {
	Session           session.Snapshot `json:"session"`
	DisplayBalance    string           `json:"displayBalance,omitempty"`
	AvailableNetworks []string         `json:"availableNetworks"`
	DefaultNetwork    string           `json:"defaultNetwork"`
}

type networkView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Symbol      string `json:"symbol"`
	ChainIDHex  string `json:"chainIdHex"`
	Explorer    string `json:"explorer"`
	Available   bool   `json:"available"`
	Default     bool   `json:"default"`
	Active      bool   `json:"active"`
}

type draftResp struct {
	Draft    *broker.DraftView    `json:"draft,omitempty"`
	Estimate *broker.EstimateView `json:"estimate,omitempty"`
}

type balanceResp struct {
	session.Balance
	Display string `json:"display"`
	Symbol  string `json:"symbol"`
}
