package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/funtimes-rovercar/internal/selftest"
)

// Reply answers one command.
type Reply struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

func (c *Command) Bind(r *http.Request) error {
	if c.Cmd == "" {
		return errors.Wrap(ErrBadCommand, "missing cmd")
	}
	return nil
}

// ErrResponse renders an error with its HTTP status.
type ErrResponse struct {
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	ErrorText      string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{HTTPStatusCode: http.StatusBadRequest, StatusText: "Invalid request.", ErrorText: err.Error()}
}

func ErrDevice(err error) render.Renderer {
	return &ErrResponse{HTTPStatusCode: http.StatusBadGateway, StatusText: "Device error.", ErrorText: err.Error()}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Router returns the HTTP surface: websockets, REST commands and health.
func (s *State) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(withCORS)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HandleHealth)
	r.Get("/control", s.HandleControlWS)
	r.Get("/diag", s.HandleDiagWS)
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", func(w http.ResponseWriter, r *http.Request) { render.JSON(w, r, s.ConfigSnapshot()) })
		r.Get("/diag", func(w http.ResponseWriter, r *http.Request) { render.JSON(w, r, s.Diag.Recent()) })
		r.Get("/sensors", func(w http.ResponseWriter, r *http.Request) { render.JSON(w, r, s.Sensors()) })
		r.Post("/command", s.HandleCommand)
		r.Post("/halt", func(w http.ResponseWriter, r *http.Request) { s.reply(w, r, Command{Cmd: "halt"}) })
		r.Get("/selftest", func(w http.ResponseWriter, r *http.Request) { render.JSON(w, r, kinds()) })
		r.Post("/selftest/{kind}", func(w http.ResponseWriter, r *http.Request) {
			s.reply(w, r, Command{Cmd: "selftest", Test: chi.URLParam(r, "kind")})
		})
		r.Delete("/selftest", func(w http.ResponseWriter, r *http.Request) {
			s.StopSelfTest()
			render.JSON(w, r, Reply{OK: true})
		})
	})
	return r
}

func (s *State) HandleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.Health())
}

func (s *State) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := render.Bind(r, &cmd); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	s.reply(w, r, cmd)
}

func (s *State) reply(w http.ResponseWriter, r *http.Request, cmd Command) {
	res, err := s.Apply(cmd)
	switch {
	case errors.Is(err, ErrBadCommand):
		render.Render(w, r, ErrInvalidRequest(err))
	case err != nil:
		render.Render(w, r, ErrDevice(err))
	default:
		render.JSON(w, r, Reply{OK: true, Result: res})
	}
}

func (s *State) HandleControlWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		var rep Reply
		if err := json.Unmarshal(data, &cmd); err != nil {
			rep.Error = errors.Wrap(ErrBadCommand, err.Error()).Error()
		} else if res, err := s.Apply(cmd); err != nil {
			rep.Error = err.Error()
		} else {
			rep.OK, rep.Result = true, res
		}
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteJSON(rep); err != nil {
			log.Debug().Err(err).Msg("write reply")
			return
		}
	}
}

// HandleDiagWS sends the recent diagnostics, then every new one.
func (s *State) HandleDiagWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	feed, cancel := s.Diag.Subscribe()
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		cancel()
		conn.Close()
	}()

	for _, d := range s.Diag.Recent() {
		conn.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
		if err := conn.WriteJSON(d); err != nil {
			return
		}
	}
	for {
		select {
		case <-closed:
			return
		case d := <-feed:
			conn.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
			if err := conn.WriteJSON(d); err != nil {
				log.Debug().Err(err).Msg("write diagnostic")
				return
			}
		}
	}
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func kinds() []string {
	out := make([]string, len(selftest.Kinds))
	for i, k := range selftest.Kinds {
		out[i] = string(k)
	}
	return out
}
