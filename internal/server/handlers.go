package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/shabda/internal/correct"
	"github.com/MrWong99/shabda/internal/observe"
	"github.com/MrWong99/shabda/internal/resilience"
	"github.com/MrWong99/shabda/internal/vocab"
	"github.com/MrWong99/shabda/pkg/script"
	"github.com/MrWong99/shabda/pkg/trie"
)

type spellcheckRequest struct {
	Words []string `json:"words"`
}

type spellcheckResponse struct {
	Results map[string]bool `json:"results"`
}

type suggestRequest struct {
	Word           string `json:"word"`
	MaxSuggestions int    `json:"max_suggestions"`
}

type suggestResponse struct {
	Suggestions []string `json:"suggestions"`
}

type correctRequest struct {
	Sentence string   `json:"sentence"`
	Tokens   []string `json:"tokens"`
}

type batchRequest struct {
	Sentences []string `json:"sentences"`
}

type batchResponse struct {
	Results []correct.Result `json:"results"`
}

type addWordsRequest struct {
	Words   []string `json:"words"`
	Persist bool     `json:"persist"`
}

type addWordsResponse struct {
	Added     int  `json:"added"`
	Rejected  int  `json:"rejected"`
	Words     int  `json:"words"`
	Recorded  int  `json:"recorded"`
	Persisted bool `json:"persisted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSpellcheck(w http.ResponseWriter, r *http.Request) {
	var req spellcheckRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Words) == 0 {
		s.writeError(w, r, invalid("words must not be empty"))
		return
	}

	t := s.vocab.Load()
	res := spellcheckResponse{Results: make(map[string]bool, len(req.Words))}
	for _, word := range req.Words {
		res.Results[word] = t.IsKnown(word)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if !s.decode(w, r, &req) {
		return
	}
	switch {
	case req.Word == "":
		s.writeError(w, r, invalid("word must not be empty"))
		return
	case req.MaxSuggestions < 0 || req.MaxSuggestions > maxSuggestions:
		s.writeError(w, r, invalid("max_suggestions must be between 0 and %d", maxSuggestions))
		return
	case req.MaxSuggestions == 0:
		req.MaxSuggestions = DefaultMaxSuggestions
	}

	sugg := s.vocab.Load().Suggest(req.Word, req.MaxSuggestions)
	if sugg == nil {
		sugg = []string{}
	}
	writeJSON(w, http.StatusOK, suggestResponse{Suggestions: sugg})
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Sentence != "" && req.Tokens != nil {
		s.writeError(w, r, invalid("send either sentence or tokens, not both"))
		return
	}

	p := s.Pipelines().Correct
	var (
		res correct.Result
		err error
	)
	if req.Tokens != nil {
		res, err = p.Correct(r.Context(), req.Tokens)
	} else {
		res, err = p.CorrectText(r.Context(), req.Sentence)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCorrectBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Sentences) > s.cfg.MaxBatch {
		s.writeError(w, r, invalid("batch of %d sentences exceeds the limit of %d", len(req.Sentences), s.cfg.MaxBatch))
		return
	}

	p := s.Pipelines().Correct
	results := make([]correct.Result, len(req.Sentences))

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, sentence := range req.Sentences {
		g.Go(func() error {
			res, err := p.CorrectText(ctx, sentence)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

func (s *Server) handleAddWords(w http.ResponseWriter, r *http.Request) {
	var req addWordsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Words) == 0 {
		s.writeError(w, r, invalid("words must not be empty"))
		return
	}
	if req.Persist && s.snapshot == nil {
		s.writeError(w, r, invalid("persist requested but no snapshot backend is configured"))
		return
	}

	ctx := r.Context()
	t := s.vocab.Load()
	st := s.loader.MergeWords(ctx, t, "api", req.Words)
	res := addWordsResponse{Added: st.Added, Rejected: st.Rejected, Words: t.Len()}

	if s.words != nil {
		n, err := s.words.Add(ctx, knownForms(t, req.Words), "api")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		res.Recorded = n
	}

	if req.Persist {
		if err := s.loader.SaveSnapshot(ctx, s.snapshot, t); err != nil {
			s.writeError(w, r, err)
			return
		}
		if s.afterSave != nil {
			s.afterSave()
		}
		res.Persisted = true
	}

	observe.Logger(ctx).Info("server: merged words",
		"added", res.Added,
		"rejected", res.Rejected,
		"recorded", res.Recorded,
		"persisted", res.Persisted,
	)
	writeJSON(w, http.StatusOK, res)
}

// knownForms returns the form under which each of words is stored in t,
// skipping words t rejected.
func knownForms(t *trie.Trie, words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		switch {
		case w == "":
		case t.IsKnown(w):
			out = append(out, w)
		case t.IsKnown(script.Normalize(w)):
			out = append(out, script.Normalize(w))
		}
	}
	return out
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.vocab.Info())
}

func (s *Server) handleScorers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Scorers []resilience.MemberStatus `json:"scorers"`
	}{s.scorers()})
}

// decode reads a JSON request body into v. On failure it writes a 400 and
// returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		s.writeError(w, r, invalid("decode request: %v", err))
		return false
	}
	return true
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errInvalidInput), errors.Is(err, trie.ErrInvalidInput), errors.Is(err, correct.ErrInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, correct.ErrScoringUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, vocab.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("server: request failed",
			"path", r.URL.Path,
			"status", status,
			"err", err,
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
