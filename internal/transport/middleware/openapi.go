package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"github.com/frahmantamala/purchase-core/internal"
	"github.com/frahmantamala/purchase-core/internal/transport"
)

// RequestValidator checks incoming requests against the OpenAPI document.
// Paths in the document are relative to basePath.
type RequestValidator struct {
	router   routers.Router
	basePath string
	base     *transport.BaseHandler
}

func NewRequestValidator(ctx context.Context, specPath, basePath string, logger *slog.Logger) (*RequestValidator, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	// routes are matched on the path with basePath stripped
	doc.Servers = nil

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}

	return &RequestValidator{
		router:   router,
		basePath: strings.TrimSuffix(basePath, "/"),
		base:     transport.NewBaseHandler(logger),
	}, nil
}

// Middleware rejects requests that violate the document with 400. Routes the
// document does not describe pass through untouched.
func (v *RequestValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probe := r.Clone(r.Context())
		probe.URL.Path = strings.TrimPrefix(r.URL.Path, v.basePath)
		if probe.URL.Path == "" {
			probe.URL.Path = "/"
		}

		route, pathParams, err := v.router.FindRoute(probe)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    probe,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				MultiError:         true,
			},
		}
		err = openapi3filter.ValidateRequest(r.Context(), input)
		// validation may have consumed and replaced the body
		r.Body = probe.Body
		if err != nil {
			v.base.Logger.Warn("request failed OpenAPI validation",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err)
			v.base.HandleServiceError(w, validationError(err))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func validationError(err error) *internal.AppError {
	var details []internal.ValidationError
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		for _, e := range multi {
			details = append(details, describe(e))
		}
	} else {
		details = append(details, describe(err))
	}
	return internal.NewValidationError("request does not match the API contract", internal.ErrCodeValidationFailed).
		WithDetails(internal.ValidationErrors{Errors: details})
}

func describe(err error) internal.ValidationError {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		field := "body"
		if reqErr.Parameter != nil {
			field = reqErr.Parameter.Name
		}
		reason := reqErr.Reason
		if reason == "" && reqErr.Err != nil {
			reason = reqErr.Err.Error()
		}
		return internal.ValidationError{Field: field, Message: reason, Code: string(internal.ErrCodeValidationFailed)}
	}
	return internal.ValidationError{Message: err.Error(), Code: string(internal.ErrCodeValidationFailed)}
}
