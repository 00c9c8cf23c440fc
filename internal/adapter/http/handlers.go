package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/couchcryptid/wardrive/internal/domain"
)

// maxSampleBytes bounds a single ingestion body.
const maxSampleBytes = 1 << 20

type ingestResponse struct {
	Status    string `json:"status"`
	Published bool   `json:"published"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSampleBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "missing JSON body")
		return
	}
	raw, err := domain.DecodePayload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}

	res, err := s.svc.Ingest(r.Context(), raw)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error(), "field": verr.Field})
			return
		}
		s.logger.Error("ingest failed", "request_id", requestIDFrom(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store sample")
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{Status: "ok", Published: res.Published})
}

func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Query(r.Context())
	if err != nil {
		s.logger.Error("query failed", "request_id", requestIDFrom(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load networks")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
