package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"siftsearch/internal/models"
	"siftsearch/internal/search"
	"siftsearch/internal/version"
)

const maxTopK = 100

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, apiError{Error: code, Message: msg, Code: status})
}

func ms(d time.Duration) float64 { return round2(float64(d) / float64(time.Millisecond)) }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// handleSearch accepts a multipart upload in field "file" and returns the
// closest database images.
func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	if !a.authorize(w, r) {
		return
	}
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(a.cfg.MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "upload exceeds "+strconv.FormatInt(a.cfg.MaxUploadBytes, 10)+" bytes")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "expected multipart/form-data")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	f, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "file is required")
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "read upload: "+err.Error())
		return
	}

	q := search.Query{Tag: strings.TrimSpace(r.FormValue("tag"))}
	if ks := strings.TrimSpace(r.FormValue("k")); ks != "" {
		k, err := strconv.Atoi(ks)
		if err != nil || k < 1 || k > maxTopK {
			writeError(w, http.StatusBadRequest, "invalid_request", "k must be between 1 and 100")
			return
		}
		q.TopK = k
	}

	exStart := time.Now()
	feats, err := a.ex.Extract(r.Context(), data)
	if err != nil {
		a.log.Error("search.extract", "err", err.Error())
		writeError(w, http.StatusInternalServerError, "extract_failed", err.Error())
		return
	}
	extraction := time.Since(exStart)

	hits, err := a.engine.Search(r.Context(), feats, q)
	if err != nil {
		if errors.Is(err, search.ErrNoFeatures) {
			a.metrics.incNoFeatures()
			writeError(w, http.StatusUnprocessableEntity, "no_features", "No features found in query image")
			return
		}
		a.log.Error("search.failed", "err", err.Error())
		writeError(w, http.StatusInternalServerError, "search_failed", err.Error())
		return
	}
	a.metrics.incSearches()

	resp := models.SearchResponse{
		Results:   make([]models.SearchResult, 0, len(hits.Results)),
		Keypoints: len(feats.Keypoints),
		Scanned:   hits.Scanned,
	}
	for _, h := range hits.Results {
		resp.Results = append(resp.Results, models.SearchResult{
			File:                 h.File,
			Tag:                  h.Tag,
			MatchCount:           h.MatchCount,
			StructuralSimilarity: round2(h.Structural),
			ColorSimilarity:      round2(h.Color),
			TotalSimilarity:      round2(h.Total),
		})
	}
	resp.Timings = models.Timings{
		FeatureExtraction: ms(extraction),
		Matching:          ms(hits.Matching),
		Sorting:           ms(hits.Sorting),
		Total:             ms(time.Since(start)),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	if !a.authorize(w, r) {
		return
	}
	db := a.engine.Database()
	tags := db.Tags()
	st := models.Stats{
		Records:     db.Len(),
		Descriptors: db.Descriptors(),
		Tags:        make([]models.TagCount, 0, len(tags)),
		DBPath:      a.cfg.DBPath,
		LoadedAt:    time.Unix(0, a.loadedAt.Load()).UTC(),
		ReadOnly:    a.cfg.ReadOnly,
		Version:     version.String(),
	}
	for _, t := range tags {
		st.Tags = append(st.Tags, models.TagCount{Tag: t.Tag, Count: t.Count})
	}
	writeJSON(w, http.StatusOK, st)
}

// handleReload re-reads the database from cfg.DBPath and swaps it in. A failed
// load leaves the current database serving.
func (a *API) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	if !a.authorize(w, r) {
		return
	}
	if a.cfg.ReadOnly {
		writeError(w, http.StatusForbidden, "read_only", "reload disabled in read-only mode")
		return
	}
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	db, err := a.load(r.Context(), a.cfg.DBPath)
	if err == nil {
		err = a.engine.Reload(db)
	}
	if err != nil {
		a.metrics.incReloadFailures()
		a.log.Error("db.reload_failed", "path", a.cfg.DBPath, "err", err.Error())
		writeError(w, http.StatusInternalServerError, "reload_failed", err.Error())
		return
	}
	now := time.Now()
	a.loadedAt.Store(now.UnixNano())
	a.metrics.incReloads()
	a.log.Info("db.reload", "path", a.cfg.DBPath, "records", db.Len())
	writeJSON(w, http.StatusOK, models.ReloadResponse{Records: db.Len(), LoadedAt: now.UTC()})
}
