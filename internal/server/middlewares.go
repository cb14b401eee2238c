package server

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"

	"github.com/rs/xid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"teamchat/internal/auth"
	"teamchat/internal/storage"
	"teamchat/internal/storage/zapadapter"
)

const maxBodySize = 64 << 10

type ctxKey int

const userKey ctxKey = iota

// enforcePOSTJSON is a middleware pre-processing each HTTP request
// it checks for POST method, application/json Content-Type header and valid json body
// it also sets blank Content-Type header to application/json
func enforcePOSTJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeMessage(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
			return
		}

		// check "Content-Type" header
		contentType := r.Header.Get("Content-Type")
		if contentType != "" {
			mt, _, err := mime.ParseMediaType(contentType)
			if err != nil {
				writeMessage(w, http.StatusBadRequest, "Malformed Content-Type header")
				return
			}

			if mt != "application/json" {
				writeMessage(w, http.StatusUnsupportedMediaType, "Content-Type header must be application/json")
				return
			}
		} else {
			r.Header.Set("Content-Type", "application/json")
		}

		// check if provided request body is valid JSON
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "Can not read request body")
			return
		}

		if len(body) == 0 {
			writeMessage(w, http.StatusBadRequest, "No body provided")
			return
		}

		if err = fastjson.ValidateBytes(body); err != nil {
			writeMessage(w, http.StatusBadRequest, "Malformed JSON")
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))

		next.ServeHTTP(w, r)
	})
}

// logRequest assigns request id and logs each incoming request
func logRequest(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := xid.New().String()

			ctx := zapadapter.NewContextWithID(r.Context(), id)
			rwID := r.WithContext(ctx)

			logger.Info("incoming http request",
				zap.String("id", id),
				zap.String("method", r.Method),
				zap.String("uri", r.URL.RequestURI()),
				zap.String("ip", r.RemoteAddr),
			)

			next.ServeHTTP(w, rwID)
		})
	}
}

// authenticate resolves token of the request into a user, requests without valid token get 401
func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := h.accounts.Resolve(r.Context(), auth.TokenFromRequest(r))
		if err != nil {
			h.fail(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, u)
		ctx = zapadapter.NewContextWithUserID(ctx, u.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFromContext returns user stored by authenticate
func userFromContext(ctx context.Context) storage.User {
	u, ok := ctx.Value(userKey).(storage.User)
	if !ok {
		panic("server: handler is not wrapped with authenticate")
	}
	return u
}
