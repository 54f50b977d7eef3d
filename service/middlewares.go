package service

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/cs3org/sweettooth/internal/auth"
	"github.com/cs3org/sweettooth/internal/errtypes"
	"github.com/cs3org/sweettooth/internal/model"
	"github.com/openzipkin/zipkin-go/idgenerator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

func RequestLoggerMiddleware(log *zerolog.Logger, next http.Handler) http.Handler {
	traceHandler := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			trace := idgenerator.NewRandom128().TraceID()
			l := log.With().Str("trace_id", trace.String())
			w.Header().Set("X-Trace-Id", trace.String())
			next.ServeHTTP(w, r.WithContext(l.Logger().WithContext(r.Context())))
		})
	}

	requestHandler := hlog.AccessHandler(
		func(r *http.Request, status, size int, duration time.Duration) {
			log := hlog.FromRequest(r)
			var event *zerolog.Event
			switch {
			case status < 400:
				event = log.Info()
			case status < 500:
				event = log.Warn()
			default:
				event = log.Error()
			}

			event.Str("method", r.Method).
				Stringer("url", r.URL).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Str("user_agent", r.UserAgent()).
				Send()
		},
	)

	return traceHandler(requestHandler(next))
}

func RecoverFromPanicMiddleware(log *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Msgf("panic: %v\n%s", rec, debug.Stack())
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

// ContextWithUser returns a copy of ctx carrying the user.
func ContextWithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the authenticated user,
// or nil for anonymous requests.
func UserFromContext(ctx context.Context) *model.User {
	u, _ := ctx.Value(userKey{}).(*model.User)
	return u
}

// authenticate resolves the user of the bearer token.
// Requests without a token go through as anonymous.
func (s *Service) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		claims, err := s.tokens.Parse(token)
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("rejected bearer token")
			writeJSON(w, r, http.StatusUnauthorized, errorRes{Error: "invalid token"})
			return
		}
		user, err := s.repo.GetUser(ctx, claims.UserID)
		if err != nil {
			if errtypes.IsNotFound(err) {
				writeJSON(w, r, http.StatusUnauthorized, errorRes{Error: "invalid token"})
				return
			}
			writeError(w, r, err)
			return
		}

		l := zerolog.Ctx(ctx).With().Str("user", user.Username).Logger()
		ctx = l.WithContext(ContextWithUser(ctx, user))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireUser answers 401 to anonymous requests.
func requireUser(w http.ResponseWriter, r *http.Request) *model.User {
	u := UserFromContext(r.Context())
	if u == nil {
		writeJSON(w, r, http.StatusUnauthorized, errorRes{Error: "authentication required"})
	}
	return u
}
