package api

import "net/http"

type trustResponse struct {
	AccountID  string `json:"account_id"`
	TrustScore int    `json:"trust_score"`
	Risk       string `json:"risk"`
}

// handleTrustMe handles GET /trust/me.
func (s *Server) handleTrustMe(w http.ResponseWriter, r *http.Request) {
	const op = "api.trust_me"
	accountID, _ := AccountIDFromContext(r.Context())
	view, err := s.deps.Trust(r.Context(), accountID)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, trustResponse{
		AccountID:  view.AccountID,
		TrustScore: view.Score,
		Risk:       view.Risk.String(),
	})
}
