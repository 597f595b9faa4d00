package api

import (
	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/listenupapp/geomwatch/internal/errors"
	"github.com/listenupapp/geomwatch/internal/http/response"
)

// EnvelopeTransformer wraps every huma response body in response.Envelope.
func EnvelopeTransformer(_ huma.Context, _ string, v any) (any, error) {
	switch body := v.(type) {
	case *APIError:
		return response.Failure(domainerrors.Code(body.Code), body.Message, body.Details), nil
	case response.Envelope:
		return body, nil
	default:
		return response.Wrap(v), nil
	}
}
