package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"reddit_watcher/internal/model"
	"reddit_watcher/internal/storage"
)

type keywordJSON struct {
	ID        int64     `json:"id"`
	Keyword   string    `json:"keyword"`
	CreatedAt time.Time `json:"created_at"`
}

type matchJSON struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	URL        string    `json:"url"`
	Subreddit  string    `json:"subreddit"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	Keywords   []string  `json:"keywords"`
}

type replyJSON struct {
	ID         int64     `json:"id"`
	MatchID    int64     `json:"match_id"`
	MessageID  string    `json:"message_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	URL        string    `json:"url"`
	CreatedAt  time.Time `json:"created_at"`
}

type pageJSON struct {
	Page  int `json:"page"`
	Size  int `json:"size"`
	Items any `json:"items"`
}

func toMatchJSON(m model.Match) matchJSON {
	keywords := m.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return matchJSON{
		ID:         m.ID,
		ExternalID: m.ExternalID,
		URL:        m.URL,
		Subreddit:  m.Subreddit,
		Kind:       string(m.Kind),
		Title:      m.Title,
		Body:       m.Body,
		CreatedAt:  m.CreatedAt,
		Keywords:   keywords,
	}
}

func toReplyJSON(r model.Reply) replyJSON {
	return replyJSON{
		ID:         r.ID,
		MatchID:    r.MatchID,
		MessageID:  r.MessageID,
		AuthorID:   r.AuthorID,
		AuthorName: r.AuthorName,
		Content:    r.Content,
		URL:        r.URL,
		CreatedAt:  r.CreatedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleListKeywords(w http.ResponseWriter, r *http.Request) {
	keywords, err := s.store.ListKeywords(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.log.Error("list keywords", "error", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	out := make([]keywordJSON, 0, len(keywords))
	for _, k := range keywords {
		out = append(out, keywordJSON{ID: k.ID, Keyword: k.Text, CreatedAt: k.CreatedAt})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddKeyword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Keyword string `json:"keyword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.Keyword) == "" {
		s.writeError(w, http.StatusBadRequest, "keyword is required")
		return
	}

	k, err := s.store.GetOrCreateKeyword(r.Context(), payload.Keyword)
	if err != nil {
		s.log.Error("add keyword", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to insert keyword")
		return
	}

	s.notifyReload(r.Context())
	s.writeJSON(w, http.StatusCreated, keywordJSON{ID: k.ID, Keyword: k.Text, CreatedAt: k.CreatedAt})
}

func (s *Server) handleDeleteKeyword(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid keyword id")
		return
	}

	err = s.store.DeleteKeyword(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "keyword not found")
		return
	}
	if err != nil {
		s.log.Error("delete keyword", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete keyword")
		return
	}

	s.notifyReload(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]int64{"deleted": id})
}

func matchFilterFromQuery(r *http.Request) storage.MatchFilter {
	q := r.URL.Query()
	f := storage.MatchFilter{
		Keyword:   q.Get("keyword"),
		Subreddit: q.Get("subreddit"),
	}
	if kind := q.Get("kind"); kind == string(model.KindPost) || kind == string(model.KindComment) {
		f.Kind = model.ItemKind(kind)
	}
	f.KeywordID, _ = strconv.ParseInt(q.Get("keyword_id"), 10, 64)
	if ts, err := strconv.ParseInt(q.Get("from_ts"), 10, 64); err == nil {
		f.From = time.Unix(ts, 0).UTC()
	}
	if ts, err := strconv.ParseInt(q.Get("to_ts"), 10, 64); err == nil {
		f.To = time.Unix(ts, 0).UTC()
	}
	f.Page, f.Size = pageParams(r)
	return f
}

func pageParams(r *http.Request) (page, size int) {
	q := r.URL.Query()
	page, _ = strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ = strconv.Atoi(q.Get("size"))
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	f := matchFilterFromQuery(r)
	matches, err := s.store.ListMatches(r.Context(), f)
	if err != nil {
		s.log.Error("list matches", "error", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	items := make([]matchJSON, 0, len(matches))
	for _, m := range matches {
		items = append(items, toMatchJSON(m))
	}
	s.writeJSON(w, http.StatusOK, pageJSON{Page: f.Page, Size: f.Size, Items: items})
}

func (s *Server) handleExportMatches(w http.ResponseWriter, r *http.Request) {
	f := matchFilterFromQuery(r)
	matches, err := s.store.ListMatches(r.Context(), f)
	if err != nil {
		s.log.Error("export matches", "error", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="matches.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "external_id", "url", "subreddit", "kind", "title", "body", "created_at", "keywords"})
	for _, m := range matches {
		_ = cw.Write([]string{
			strconv.FormatInt(m.ID, 10),
			m.ExternalID,
			m.URL,
			m.Subreddit,
			string(m.Kind),
			m.Title,
			m.Body,
			m.CreatedAt.Format(time.RFC3339),
			strings.Join(m.Keywords, ";"),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.log.Error("write csv", "error", err)
	}
}

func (s *Server) handleListReplies(w http.ResponseWriter, r *http.Request) {
	mf := matchFilterFromQuery(r)
	f := storage.ReplyFilter{
		KeywordID: mf.KeywordID,
		Keyword:   mf.Keyword,
		Subreddit: mf.Subreddit,
		Kind:      mf.Kind,
		Page:      mf.Page,
		Size:      mf.Size,
	}
	if ts, err := strconv.ParseInt(r.URL.Query().Get("reply_from_ts"), 10, 64); err == nil {
		f.From = time.Unix(ts, 0).UTC()
	}
	if ts, err := strconv.ParseInt(r.URL.Query().Get("reply_to_ts"), 10, 64); err == nil {
		f.To = time.Unix(ts, 0).UTC()
	}

	details, err := s.store.ListReplies(r.Context(), f)
	if err != nil {
		s.log.Error("list replies", "error", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	type replyDetailJSON struct {
		Reply replyJSON `json:"reply"`
		Match matchJSON `json:"match"`
	}
	items := make([]replyDetailJSON, 0, len(details))
	for _, d := range details {
		items = append(items, replyDetailJSON{
			Reply: toReplyJSON(d.Reply),
			Match: toMatchJSON(d.Match),
		})
	}
	s.writeJSON(w, http.StatusOK, pageJSON{Page: f.Page, Size: f.Size, Items: items})
}

func (s *Server) handleMatchReplies(w http.ResponseWriter, r *http.Request) {
	matchID, err := strconv.ParseInt(chi.URLParam(r, "matchID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}

	replies, err := s.store.ListRepliesByMatch(r.Context(), matchID)
	if err != nil {
		s.log.Error("list match replies", "match_id", matchID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	items := make([]replyJSON, 0, len(replies))
	for _, reply := range replies {
		items = append(items, toReplyJSON(reply))
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleDashboardKeywords(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.KeywordStats(r.Context())
	if err != nil {
		s.log.Error("keyword stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	type statJSON struct {
		keywordJSON
		Matches  int `json:"matches_count"`
		Posts    int `json:"posts_count"`
		Comments int `json:"comments_count"`
		Replies  int `json:"replies_count"`
	}
	items := make([]statJSON, 0, len(stats))
	for _, st := range stats {
		items = append(items, statJSON{
			keywordJSON: keywordJSON{ID: st.Keyword.ID, Keyword: st.Keyword.Text, CreatedAt: st.Keyword.CreatedAt},
			Matches:     st.Matches,
			Posts:       st.Posts,
			Comments:    st.Comments,
			Replies:     st.Replies,
		})
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleDashboardActivity(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	entries, err := s.store.RecentActivity(r.Context(), limit)
	if err != nil {
		s.log.Error("recent activity", "error", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	type activityJSON struct {
		matchJSON
		ReplyCount  int        `json:"reply_count"`
		LastReplyAt *time.Time `json:"last_reply_at,omitempty"`
	}
	items := make([]activityJSON, 0, len(entries))
	for _, e := range entries {
		a := activityJSON{matchJSON: toMatchJSON(e.Match), ReplyCount: e.ReplyCount}
		if !e.LastReplyAt.IsZero() {
			t := e.LastReplyAt
			a.LastReplyAt = &t
		}
		items = append(items, a)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
