package api

import (
	"net"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/listenupapp/geomwatch/internal/errors"
)

// limitReloads refuses manual reloads beyond the per-client budget with 429.
func (s *Server) limitReloads(ctx huma.Context, next func(huma.Context)) {
	key := clientIP(ctx.RemoteAddr())

	if !s.reloadLimiter.Allow(key) {
		s.logger.Warn("Rate limit exceeded",
			"ip", key,
			"path", ctx.URL().Path,
		)
		err := domainerrors.RateLimited("Too many reload requests. Please try again later.")
		_ = huma.WriteErr(s.api, ctx, err.HTTPStatus(), err.Message, err)
		return
	}

	next(ctx)
}

// clientIP strips the port from a remote address. middleware.RealIP has
// already applied X-Forwarded-For and X-Real-IP.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
