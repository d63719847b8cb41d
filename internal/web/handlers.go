package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/hpungsan/shutter/internal/directory"
	"github.com/hpungsan/shutter/internal/errors"
	"github.com/hpungsan/shutter/internal/media"
	"github.com/hpungsan/shutter/internal/search"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	search   *search.Controller
	media    *media.Library
	renderer *Renderer
}

// HandleMedia handles GET /media, the saved captures newest first.
func (h *Handlers) HandleMedia(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")
	if kind != "" && !media.Kind(kind).Valid() {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("type must be photo or video"))
		return
	}

	records, err := h.media.Load(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	total := len(records)

	if kind != "" {
		filtered := make([]media.Record, 0, len(records))
		for _, rec := range records {
			if rec.Kind == media.Kind(kind) {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"items": records, "total": total})
		return
	}

	h.renderer.renderPage(w, r, "media", MediaPageData{
		PageData: h.renderer.page("Saved media", "media"),
		Items:    records,
		Type:     kind,
		Total:    total,
	})
}

// HandleSearch handles GET /search?q=, a directory lookup.
// Without a query it shows the recent searches only.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	term := search.NormalizeTerm(q)

	data := SearchPageData{
		PageData: h.renderer.page("Search", "search"),
		Query:    q,
		Term:     term,
	}

	if term != "" {
		users, err := h.search.Lookup(r.Context(), q)
		switch {
		case errors.Is(err, errors.ErrNetworkFailed):
			// Keep showing whatever the last successful lookup returned.
			data.Error = errors.As(err).Message
			data.Users = h.search.Snapshot().Results
		case err != nil:
			h.renderer.renderError(w, r, err)
			return
		default:
			data.Users = users
		}
		data.HasSearched = true
	}
	data.History = h.search.History()

	if wantsJSON(r) {
		status := http.StatusOK
		if data.Error != "" {
			status = http.StatusBadGateway
		}
		renderJSON(w, status, map[string]any{
			"query":   term,
			"users":   nonNilUsers(data.Users),
			"history": data.History,
			"error":   data.Error,
		})
		return
	}

	// htmx live search swaps only the results block
	if r.Header.Get("HX-Target") == "results" {
		h.renderer.renderBlock(w, http.StatusOK, "search", "results", data)
		return
	}

	h.renderer.renderPage(w, r, "search", data)
}

// HandleUser handles GET /users/{id}?q=, a user's detail card.
// The user is taken from the current results, or looked up again with q.
func (h *Handlers) HandleUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("user id must be a positive integer"))
		return
	}
	q := r.URL.Query().Get("q")

	user, ok := findUser(h.search.Snapshot().Results, id)
	if !ok && search.NormalizeTerm(q) != "" {
		users, err := h.search.Lookup(r.Context(), q)
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		user, ok = findUser(users, id)
	}
	if !ok {
		h.renderer.renderError(w, r, errors.NewNotFound("user "+strconv.Itoa(id)))
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, user)
		return
	}

	h.renderer.renderPage(w, r, "user", UserPageData{
		PageData: h.renderer.page(user.DisplayName(), "search"),
		User:     user,
		Query:    q,
		CardHTML: renderMarkdown(userCard(user)),
	})
}

// HandleHistoryRemove handles POST /history/remove, dropping one recent search.
func (h *Handlers) HandleHistoryRemove(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	entry := r.FormValue("entry")
	if strings.TrimSpace(entry) == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("entry is required"))
		return
	}

	if err := h.search.RemoveHistoryEntry(r.Context(), entry); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.historyChanged(w, r, map[string]any{"removed": entry, "history": h.search.History()})
}

// HandleHistoryClear handles POST /history/clear. The form must carry confirm=true.
func (h *Handlers) HandleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	confirmed := r.FormValue("confirm") == "true"
	if !confirmed {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("confirm parameter must be \"true\""))
		return
	}

	if _, err := h.search.ClearHistory(r.Context(), func() bool { return confirmed }); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.historyChanged(w, r, map[string]any{"cleared": true})
}

func (h *Handlers) historyChanged(w http.ResponseWriter, r *http.Request, payload map[string]any) {
	// HTMX request: re-render the history list
	if r.Header.Get("HX-Request") == "true" {
		h.renderer.renderBlock(w, http.StatusOK, "search", "history", SearchPageData{
			PageData: h.renderer.page("Search", "search"),
			History:  h.search.History(),
		})
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, payload)
		return
	}

	http.Redirect(w, r, "/search", http.StatusSeeOther)
}

func findUser(users []directory.UserSummary, id int) (directory.UserSummary, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return directory.UserSummary{}, false
}

func nonNilUsers(users []directory.UserSummary) []directory.UserSummary {
	if users == nil {
		return []directory.UserSummary{}
	}
	return users
}
