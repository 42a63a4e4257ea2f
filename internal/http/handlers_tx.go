package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/quantumauth-io/gmgn-wallet/internal/broker"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var errNoDraft = errors.New(DraftMissingText)

func (s *Server) current() (*broker.Draft, *broker.Estimate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft, s.estimate
}

func (s *Server) draftResponse(d *broker.Draft, est *broker.Estimate) draftResp {
	var resp draftResp
	if d != nil {
		v := d.View()
		resp.Draft = &v
	}
	if est != nil {
		v := est.View()
		resp.Estimate = &v
	}
	return resp
}

func (s *Server) handleGetDraft(w http.ResponseWriter, _ *http.Request) {
	d, est := s.current()
	writeOK(w, s.draftResponse(d, est))
}

// handleNewDraft replaces the draft and drops any estimate.
func (s *Server) handleNewDraft(w http.ResponseWriter, r *http.Request) {
	var req draftReq
	if !decodeJSONBody(w, r, &req) {
		return
	}

	var d *broker.Draft
	switch strings.ToLower(strings.TrimSpace(req.Kind)) {
	case "", "transfer":
		if req.Message != "" {
			writeBadRequest(w, "message does not apply to a transfer")
			return
		}
		d = broker.NewTransfer(req.To, req.Value)
	case "message":
		if req.Value != "" {
			writeBadRequest(w, "value does not apply to a message")
			return
		}
		d = broker.NewMessage(req.To, req.Message)
	default:
		writeBadRequest(w, "kind must be transfer or message")
		return
	}

	s.mu.Lock()
	s.draft, s.estimate = d, nil
	s.mu.Unlock()

	writeOK(w, s.draftResponse(d, nil))
}

func (s *Server) handlePatchDraft(w http.ResponseWriter, r *http.Request) {
	var req draftPatchReq
	if !decodeJSONBody(w, r, &req) {
		return
	}
	d, est := s.current()
	if d == nil {
		writeError(w, errNoDraft)
		return
	}

	if err := d.Apply(broker.Patch{To: req.To, Value: req.Value, Message: req.Message}); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, s.draftResponse(d, est))
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	d, _ := s.current()
	if d == nil {
		writeError(w, errNoDraft)
		return
	}

	est, err := s.estimator.Estimate(r.Context(), d)
	if err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	// a new draft may have replaced d while the node was answering
	if s.draft == d {
		s.estimate = est
	}
	s.mu.Unlock()

	writeOK(w, s.draftResponse(d, est))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	d, est := s.current()
	if d == nil {
		writeError(w, errNoDraft)
		return
	}

	ref, err := s.broker.Submit(r.Context(), d, est)
	if err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	if s.estimate == est {
		s.estimate = nil
	}
	s.mu.Unlock()

	log.Info("transaction submitted", "hash", ref.Hash.Hex(), "network", ref.Network)
	writeOK(w, ref)
}
