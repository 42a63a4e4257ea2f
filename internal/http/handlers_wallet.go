package http

import (
	"net/http"
	"strings"

	"github.com/quantumauth-io/gmgn-wallet/internal/session"
	"github.com/quantumauth-io/gmgn-wallet/internal/units"
	"github.com/quantumauth-io/quantum-go-utils/log"
	qrcode "github.com/skip2/go-qrcode"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.sess.Snapshot()

	available, err := s.prefs.AvailableNetworks()
	if err != nil {
		writeError(w, err)
		return
	}
	def, err := s.prefs.DefaultNetwork()
	if err != nil {
		writeError(w, err)
		return
	}

	resp := statusResp{Session: snap, AvailableNetworks: available, DefaultNetwork: def}
	if snap.Balance != nil && snap.Balance.Wei != nil {
		resp.DisplayBalance = units.FormatBalance(snap.Balance.Wei, balanceDecimals) + " " + s.registry.AssetSymbol(snap.Balance.Network)
	}
	writeOK(w, resp)
}

func (s *Server) handleNetworks(w http.ResponseWriter, _ *http.Request) {
	available, err := s.prefs.AvailableNetworks()
	if err != nil {
		writeError(w, err)
		return
	}
	def, err := s.prefs.DefaultNetwork()
	if err != nil {
		writeError(w, err)
		return
	}
	enabled := make(map[string]bool, len(available))
	for _, id := range available {
		enabled[id] = true
	}
	active := s.sess.Network().ID

	list := s.registry.List()
	out := make([]networkView, 0, len(list))
	for _, p := range list {
		out = append(out, networkView{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Symbol:      p.NativeAssetSymbol,
			ChainIDHex:  p.ChainIDHex(),
			Explorer:    p.Explorer,
			Available:   enabled[p.ID],
			Default:     p.ID == def,
			Active:      p.ID == active,
		})
	}
	writeOK(w, out)
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req createWalletReq
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeBadRequest(w, "name is required")
		return
	}

	rec, err := s.sess.CreateWallet(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, rec)
}

func (s *Server) handleLoadWallet(w http.ResponseWriter, r *http.Request) {
	addr, err := s.sess.LoadWallet(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]string{
		"address": addr.Hex(),
		"short":   units.TruncateAddress(addr.Hex(), 6),
	})
}

func (s *Server) handleRefreshBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.sess.RefreshBalance(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, s.balanceView(bal))
}

func (s *Server) balanceView(b session.Balance) balanceResp {
	return balanceResp{
		Balance: b,
		Display: units.FormatBalance(b.Wei, balanceDecimals),
		Symbol:  s.registry.AssetSymbol(b.Network),
	}
}

func (s *Server) handleSwitchNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkReq
	if !decodeJSONBody(w, r, &req) {
		return
	}

	p, err := s.sess.SwitchNetwork(r.Context(), req.Network)
	if err != nil {
		// the switch itself has happened; only the follow-up read failed
		status, code := classify(err)
		writeJSON(w, status, apiResponse{Code: code, Error: err.Error(), Data: p})
		return
	}
	writeOK(w, p)
}

func (s *Server) handleSignMessage(w http.ResponseWriter, r *http.Request) {
	var req signReq
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeBadRequest(w, "message is required")
		return
	}

	signed, err := s.broker.SignMessage(r.Context(), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, signed)
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.sess.Reset(); err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	s.draft, s.estimate = nil, nil
	s.mu.Unlock()

	writeOK(w, s.sess.Snapshot())
}

// handleAddressQR renders the unlocked address as a PNG for the receive view.
func (s *Server) handleAddressQR(w http.ResponseWriter, _ *http.Request) {
	snap := s.sess.Snapshot()
	if snap.Address == nil {
		writeError(w, session.ErrNotUnlocked)
		return
	}

	png, err := qrcode.Encode(snap.Address.Hex(), qrcode.Medium, qrCodeSizePx)
	if err != nil {
		log.Error("qr encode failed", "error", err)
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleSetDefaultNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkReq
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if !s.registry.Known(req.Network) {
		writeBadRequest(w, "unknown network")
		return
	}
	if err := s.prefs.SetDefaultNetwork(req.Network); err != nil {
		writeError(w, err)
		return
	}
	log.Info("default network saved", "network", req.Network)
	writeOK(w, map[string]string{"defaultNetwork": s.registry.Resolve(req.Network).ID})
}

func (s *Server) handleSetAvailableNetworks(w http.ResponseWriter, r *http.Request) {
	var req availableNetworksReq
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.Networks) == 0 {
		writeBadRequest(w, "at least one network is required")
		return
	}
	for _, id := range req.Networks {
		if !s.registry.Known(id) {
			writeBadRequest(w, "unknown network "+id)
			return
		}
	}
	if err := s.prefs.SetAvailableNetworks(req.Networks); err != nil {
		writeError(w, err)
		return
	}
	s.writeAvailable(w)
}

func (s *Server) handleResetAvailableNetworks(w http.ResponseWriter, _ *http.Request) {
	if err := s.prefs.ResetAvailableNetworks(); err != nil {
		writeError(w, err)
		return
	}
	s.writeAvailable(w)
}

func (s *Server) writeAvailable(w http.ResponseWriter) {
	ids, err := s.prefs.AvailableNetworks()
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string][]string{"networks": ids})
}
