package conformance

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"

	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
	"github.com/SnapStoreCommunity/snap-store-go/internal/snapd"
)

// FakeSnapd serves the subset of the snapd REST API the store client uses.
type FakeSnapd struct {
	*httptest.Server

	mu        sync.Mutex
	snaps     map[string]snapd.Snap
	sections  map[string][]string
	installed []string
	changes   int
	down      bool
}

// NewFakeSnapd starts a fake snapd.
func NewFakeSnapd() *FakeSnapd {
	f := &FakeSnapd{snaps: map[string]snapd.Snap{}, sections: map[string][]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/find", f.handleFind)
	mux.HandleFunc("GET /v2/snaps", f.handleInstalled)
	mux.HandleFunc("GET /v2/sections", f.handleSections)
	mux.HandleFunc("POST /v2/snaps/{name}", f.handleAction)
	f.Server = httptest.NewServer(mux)
	return f
}

// AddSnap makes snap known to the store, listed in the given sections.
func (f *FakeSnapd) AddSnap(snap snapd.Snap, sections ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[snap.Name] = snap
	for _, s := range sections {
		f.sections[s] = append(f.sections[s], snap.Name)
	}
	if snap.Status == "active" || snap.Status == "installed" {
		f.installed = append(f.installed, snap.Name)
	}
}

// SetDown makes every request fail with an internal error.
func (f *FakeSnapd) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *FakeSnapd) handleFind(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		writeSnapdError(w, http.StatusInternalServerError, "", "store unavailable")
		return
	}

	q := r.URL.Query()
	switch {
	case q.Get("name") != "":
		snap, ok := f.snaps[q.Get("name")]
		if !ok {
			writeSnapdError(w, http.StatusNotFound, "snap-not-found", "snap not found")
			return
		}
		writeSnapd(w, "sync", []snapd.Snap{snap}, "")
	case q.Get("section") != "":
		names, ok := f.sections[q.Get("section")]
		if !ok {
			writeSnapdError(w, http.StatusNotFound, "section-not-found", "section not found")
			return
		}
		snaps := make([]snapd.Snap, 0, len(names))
		for _, n := range names {
			snaps = append(snaps, f.snaps[n])
		}
		writeSnapd(w, "sync", snaps, "")
	default:
		writeSnapdError(w, http.StatusBadRequest, "", "missing query")
	}
}

func (f *FakeSnapd) handleInstalled(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		writeSnapdError(w, http.StatusInternalServerError, "", "snapd unavailable")
		return
	}
	snaps := make([]snapd.Snap, 0, len(f.installed))
	for _, n := range f.installed {
		snaps = append(snaps, f.snaps[n])
	}
	writeSnapd(w, "sync", snaps, "")
}

func (f *FakeSnapd) handleSections(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		writeSnapdError(w, http.StatusInternalServerError, "", "store unavailable")
		return
	}
	names := make([]string, 0, len(f.sections))
	for name := range f.sections {
		names = append(names, name)
	}
	slices.Sort(names)
	writeSnapd(w, "sync", names, "")
}

func (f *FakeSnapd) handleAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSnapdError(w, http.StatusBadRequest, "", "cannot decode request body")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	name := r.PathValue("name")
	if _, ok := f.snaps[name]; !ok {
		writeSnapdError(w, http.StatusNotFound, "snap-not-found", "snap not found")
		return
	}
	if req.Action == "remove" && !slices.Contains(f.installed, name) {
		writeSnapdError(w, http.StatusBadRequest, "snap-not-installed", "snap is not installed")
		return
	}
	f.changes++
	writeSnapd(w, "async", nil, fmt.Sprint(f.changes))
}

func writeSnapd(w http.ResponseWriter, typ string, result any, change string) {
	status := http.StatusOK
	if typ == "async" {
		status = http.StatusAccepted
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":        typ,
		"status-code": status,
		"status":      http.StatusText(status),
		"result":      result,
		"change":      change,
	})
}

func writeSnapdError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":        "error",
		"status-code": status,
		"status":      http.StatusText(status),
		"result":      map[string]string{"message": message, "kind": kind},
	})
}

// FakeODRS serves the fetch and ratings endpoints of the ratings service.
type FakeODRS struct {
	*httptest.Server

	mu      sync.Mutex
	reviews map[string][]model.Review // appstream id -> reviews
	stars   map[string][6]int         // appstream id -> star0..star5
	fetches int
	down    bool
	gate    chan struct{}
}

// NewFakeODRS starts a fake ratings service.
func NewFakeODRS() *FakeODRS {
	f := &FakeODRS{reviews: map[string][]model.Review{}, stars: map[string][6]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /fetch", f.handleFetch)
	mux.HandleFunc("GET /ratings/{id}", f.handleRatings)
	f.Server = httptest.NewServer(mux)
	return f
}

// SetReviews sets the reviews and per-star counts for an appstream id.
func (f *FakeODRS) SetReviews(appstreamID string, reviews []model.Review, stars [6]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews[appstreamID] = reviews
	f.stars[appstreamID] = stars
}

// SetDown makes every request fail with a server error.
func (f *FakeODRS) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// Hold blocks review fetches until the returned release function is called.
func (f *FakeODRS) Hold() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.gate = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Fetches returns the number of review fetches served.
func (f *FakeODRS) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *FakeODRS) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID    string `json:"app_id"`
		UserHash string `json:"user_hash"`
		Limit    int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AppID == "" || req.UserHash == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.down {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	type entry struct {
		model.Review
		UserSkey string `json:"user_skey"`
	}
	reviews := f.reviews[req.AppID]
	entries := make([]entry, 0, len(reviews))
	for i, rv := range reviews {
		if req.Limit > 0 && i >= req.Limit {
			break
		}
		entries = append(entries, entry{Review: rv, UserSkey: "skey-" + req.AppID})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func (f *FakeODRS) handleRatings(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	s, ok := f.stars[r.PathValue("id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	total := 0
	for _, n := range s {
		total += n
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"star0": s[0], "star1": s[1], "star2": s[2], "star3": s[3], "star4": s[4], "star5": s[5],
		"total": total,
	})
}
