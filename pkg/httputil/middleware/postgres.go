package middleware

import (
	"context"
	"net/http"

	"github.com/edgeflare/pgapi/pkg/httputil"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Postgres acquires a connection from pool for the duration of the request, attaches it
// to the request context and releases it afterwards. Handlers read it with httputil.Conn.
func Postgres(pool *pgxpool.Pool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := pool.Acquire(r.Context())
			if err != nil {
				Logger(r.Context()).Error("acquire connection", zap.Error(err))
				httputil.Error(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
			defer conn.Release()

			ctx := context.WithValue(r.Context(), httputil.PgConnCtxKey, conn)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
