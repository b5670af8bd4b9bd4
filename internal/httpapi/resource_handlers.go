package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"eadash.io/internal/model"
	"eadash.io/internal/records"
)

func (a *API) listRecords(s *model.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters, err := records.ParseFilters(s, r.URL.Query())
		if err != nil {
			fail(w, r, err)
			return
		}
		recs, err := a.records.List(r.Context(), s, filters)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func (a *API) getRecord(s *model.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := a.records.Get(r.Context(), s, r.PathValue("id"))
		if err != nil {
			fail(w, r, err)
			return
		}
		setETag(w, rec.Version)
		writeJSON(w, http.StatusOK, rec)
	}
}

func (a *API) createRecord(s *model.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		draft, err := records.DecodeCreate(s, body)
		if err != nil {
			fail(w, r, err)
			return
		}
		rec, err := a.records.Create(r.Context(), actor(r), s, draft)
		if err != nil {
			fail(w, r, err)
			return
		}
		w.Header().Set("Location", strings.TrimRight(r.URL.Path, "/")+"/"+url.PathEscape(rec.ID))
		setETag(w, rec.Version)
		writeJSON(w, http.StatusCreated, rec)
	}
}

// updateRecord applies a partial update. For versioned families an If-Match
// header turns it into a conditional update.
func (a *API) updateRecord(s *model.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pre, err := records.ParsePrecondition(r.Header.Get("If-Match"))
		if err != nil {
			fail(w, r, err)
			return
		}
		body, err := readBody(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		patch, err := records.DecodePatch(s, body)
		if err != nil {
			fail(w, r, err)
			return
		}
		rec, err := a.records.Update(r.Context(), actor(r), s, r.PathValue("id"), patch, pre)
		if err != nil {
			fail(w, r, err)
			return
		}
		setETag(w, rec.Version)
		writeJSON(w, http.StatusOK, rec)
	}
}

func (a *API) deleteRecord(s *model.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.records.Delete(r.Context(), actor(r), s, r.PathValue("id")); err != nil {
			fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
