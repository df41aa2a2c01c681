package middleware

import (
	"context"
	"net/http"

	"github.com/comprepues/vault/api/web"
	"github.com/comprepues/vault/api/weberr"
	"github.com/sirupsen/logrus"
)

// Errors logs the error returned by the handler once and answers with the
// response it carries. Errors without one become a 500.
func Errors(log logrus.FieldLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			err := handler(ctx, w, r)
			if err == nil {
				return nil
			}

			fields := logrus.Fields{
				"req_id":  ContextRequestID(ctx),
				"message": err,
			}
			if c := weberr.Code(err); c != "" {
				fields["code"] = c
			}
			if f, ok := weberr.Fields(err); ok {
				for k, v := range f {
					fields[k] = v
				}
			}

			body, code, ok := weberr.Response(err)
			if !ok {
				body = weberr.ErrorResponse{Error: http.StatusText(http.StatusInternalServerError)}
				code = http.StatusInternalServerError
			}

			if code >= http.StatusInternalServerError {
				log.WithFields(fields).Error("ERROR")
			} else {
				log.WithFields(fields).Warn("request refused")
			}

			return web.Respond(ctx, w, body, code)
		}
		return h
	}
	return m
}
