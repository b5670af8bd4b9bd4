package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"os"

	"eadash.io/internal/errs"
)

type seedResponse struct {
	Message string         `json:"message"`
	Counts  map[string]int `json:"counts"`
}

// handleSeed replaces the landscape with the request body, or with the
// configured seed file when the body is empty.
func (a *API) handleSeed(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if a.cfg.Seed.File == "" {
			fail(w, r, fmt.Errorf("%w: request body is required", errs.ErrInvalidInput))
			return
		}
		if body, err = os.ReadFile(a.cfg.Seed.File); err != nil {
			fail(w, r, fmt.Errorf("read seed file: %w", err))
			return
		}
	}
	counts, err := a.records.Seed(r.Context(), actor(r), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seedResponse{Message: "database seeded", Counts: counts})
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	doc, err := a.records.Export(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="ea-export.json"`)
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := a.records.Summary(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (a *API) handleDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := a.records.Distribution(r.Context(), r.PathValue("field"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

func (a *API) handleComplianceStatus(w http.ResponseWriter, r *http.Request) {
	dist, err := a.records.ComplianceStatus(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}
