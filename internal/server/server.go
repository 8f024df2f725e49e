package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"character_wiki/internal/fetcher"
	"character_wiki/internal/logger"
	"character_wiki/internal/models"
	"character_wiki/internal/pager"
	"character_wiki/internal/session"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionCookie - имя cookie с идентификатором сессии.
const SessionCookie = "wiki_session"

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Lister - сервис со списком персонажей.
type Lister interface {
	pager.Source
	Base() models.Cursor
	FetchCharacter(ctx context.Context, id int) (*models.Character, error)
}

// Archive - необязательный архив персонажей.
type Archive interface {
	GetCharacter(ctx context.Context, id int) (*models.Character, error)
	Ping(ctx context.Context) error
}

// Server хранит зависимости HTTP-обработчиков.
type Server struct {
	lister     Lister
	sessions   *session.Store
	archive    Archive
	hook       pager.PageHook
	sessionTTL time.Duration
}

// Option настраивает Server.
type Option func(*Server)

// WithArchive отдаёт карточку персонажа из архива, а не из API, когда она там есть.
func WithArchive(a Archive) Option {
	return func(s *Server) {
		s.archive = a
	}
}

// WithPageHook устанавливается в аккумулятор каждой новой сессии.
func WithPageHook(h pager.PageHook) Option {
	return func(s *Server) {
		s.hook = h
	}
}

// NewServer создаёт новый экземпляр Server поверх списка и хранилища сессий.
func NewServer(lister Lister, sessions *session.Store, sessionTTL time.Duration, opts ...Option) *Server {
	s := &Server{
		lister:     lister,
		sessions:   sessions,
		sessionTTL: sessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes возвращает обработчик со всеми маршрутами и middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.Index)
	mux.HandleFunc("POST /search", s.Search)
	mux.HandleFunc("POST /more", s.LoadMore)
	mux.HandleFunc("GET /api/state", s.State)
	mux.HandleFunc("GET /character/{id}", s.Character)
	mux.HandleFunc("GET /health", s.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := LoggingMiddleware(mux)
	return RequestIDMiddleware(handler)
}

// Index рисует сетку персонажей. При первом визите загружается базовая
// страница, и ею заполняется новая сессия.
func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	acc, err := s.session(w, r)
	if err != nil {
		http.Error(w, "Failed to load characters", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, "index.html", acc.Snapshot()); err != nil {
		logger.Log.Errorf("Render index failed: %v", err)
	}
}

// Search запускает поиск по имени. Пустой запрос сессию не меняет.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	acc, err := s.session(w, r)
	if err != nil {
		http.Error(w, "Failed to load characters", http.StatusBadGateway)
		return
	}

	f, err := acc.Search(r.Context(), r.FormValue("query"))
	s.finish(w, r, acc, f, err)
}

// LoadMore дописывает следующую страницу. На последней странице ничего не делает.
func (s *Server) LoadMore(w http.ResponseWriter, r *http.Request) {
	acc, err := s.session(w, r)
	if err != nil {
		http.Error(w, "Failed to load characters", http.StatusBadGateway)
		return
	}

	f, err := acc.LoadMore(r.Context())
	s.finish(w, r, acc, f, err)
}

// State возвращает состояние аккумулятора сессии в JSON.
func (s *Server) State(w http.ResponseWriter, r *http.Request) {
	acc, err := s.session(w, r)
	if err != nil {
		http.Error(w, "Failed to load characters", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, acc.Snapshot())
}

// Character показывает одного персонажа, из архива, если он там есть.
func (s *Server) Character(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 1 {
		http.Error(w, "Invalid character id", http.StatusBadRequest)
		return
	}

	ch, err := s.character(r.Context(), id)
	if err != nil {
		if errors.Is(err, errCharacterNotFound) {
			http.Error(w, "Character not found", http.StatusNotFound)
			return
		}
		logger.Log.WithField("id", id).Errorf("Fetch character failed: %v", err)
		http.Error(w, "Failed to load character", http.StatusBadGateway)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, ch)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, "character.html", ch); err != nil {
		logger.Log.Errorf("Render character failed: %v", err)
	}
}

// HealthCheck отвечает 200 OK, а если архив настроен и недоступен, то 503.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if s.archive != nil {
		if err := s.archive.Ping(r.Context()); err != nil {
			http.Error(w, "DB unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Write([]byte("OK"))
}

var errCharacterNotFound = errors.New("character not found")

func (s *Server) character(ctx context.Context, id int) (*models.Character, error) {
	if s.archive != nil {
		ch, err := s.archive.GetCharacter(ctx, id)
		if err == nil {
			return ch, nil
		}
		logger.Log.WithField("id", id).Debugf("Archive miss: %v", err)
	}

	ch, err := s.lister.FetchCharacter(ctx, id)
	if err != nil {
		if errors.Is(err, fetcher.ErrNotFound) {
			return nil, errCharacterNotFound
		}
		return nil, err
	}
	return ch, nil
}

// session возвращает аккумулятор посетителя. Если cookie нет или сессия
// истекла, создаётся и заполняется новая.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*pager.Accumulator, error) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if acc, ok := s.sessions.Get(c.Value); ok {
			s.setSessionCookie(w, c.Value)
			return acc, nil
		}
	}

	base := s.lister.Base()
	page, err := s.lister.FetchPage(r.Context(), base)
	if err != nil {
		logger.Log.WithField("cursor", base.String()).Errorf("Initial fetch failed: %v", err)
		return nil, err
	}

	var opts []pager.Option
	if s.hook != nil {
		opts = append(opts, pager.WithPageHook(s.hook))
		s.hook(base, page)
	}
	acc := pager.New(s.lister, opts...)
	acc.Initialize(base, page.Results, page.Info)

	id := s.sessions.Create(acc)
	s.setSessionCookie(w, id)
	logger.Log.WithField("request_id", RequestID(r.Context())).Debug("Session created")
	return acc, nil
}

// setSessionCookie выдаёт cookie заново при каждом запросе, чтобы срок её жизни
// сдвигался вместе с сессией на сервере.
func (s *Server) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// finish дожидается запущенной загрузки и отвечает состоянием в JSON
// или редиректом обратно на сетку.
func (s *Server) finish(w http.ResponseWriter, r *http.Request, acc *pager.Accumulator, f *pager.Fetch, err error) {
	switch {
	case err == nil:
		if werr := f.Wait(r.Context()); werr != nil && !errors.Is(werr, pager.ErrSuperseded) {
			// ошибка остаётся в состоянии и показывается на странице
			logger.Log.WithField("cursor", f.Cursor().String()).Warnf("Fetch failed: %v", werr)
		}
	case errors.Is(err, pager.ErrEmptyQuery), errors.Is(err, pager.ErrNoNextPage):
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, acc.Snapshot())
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Errorf("Encode response failed: %v", err)
	}
}
