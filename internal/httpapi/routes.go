package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-competition-backend/internal/identity"
	"github.com/DoyleJ11/quiz-competition-backend/internal/ws"
)

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Log))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)

	// Browsers cannot set identity headers on the upgrade request.
	socketIdentity := d.Identity
	if hp, ok := d.Identity.(identity.HeaderProvider); ok {
		hp.AllowQuery = true
		socketIdentity = hp
	}
	r.With(identity.Middleware(socketIdentity, d.Log)).Get("/ws", ws.Handler(ws.Deps{
		Rooms:          d.Rooms,
		Roster:         d.Roster,
		Chat:           d.Chat,
		Hub:            d.Hub,
		Log:            d.Log,
		OriginPatterns: d.AllowedOrigins,
	}))

	r.Route("/rooms", func(r chi.Router) {
		r.Use(identity.Middleware(d.Identity, d.Log))
		r.Post("/", CreateRoom(d))
		r.Post("/join", JoinByCode(d))
		r.Get("/code/{code}", FindByCode(d))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", GetRoom(d))
			r.Delete("/", DeleteRoom(d))
			r.Post("/join", Join(d))
			r.Post("/leave", Leave(d))
			r.Put("/team", SelectTeam(d))
			r.Post("/start", Start(d))
			r.Post("/score", RecordScore(d))
			r.Get("/quorum", Quorum(d))
			r.Get("/messages", ListMessages(d))
			r.Post("/messages", SendMessage(d))
			r.Get("/invite.png", InviteQR(d))
		})
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
