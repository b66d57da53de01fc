package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3filter"
	"go.uber.org/zap"
)

// BearerScheme is the security scheme name used in the OpenAPI document.
const BearerScheme = "bearerAuth"

type errorResponse struct {
	Detail string `json:"detail"`
}

// BearerToken extracts the token from an Authorization header value. The
// "Bearer " prefix is optional.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	return strings.TrimPrefix(header, "Bearer "), nil
}

// Authenticate checks an Authorization header value against v. It returns
// ErrMissingToken, ErrInvalidToken, or an error wrapping ErrTokenStore.
func Authenticate(ctx context.Context, v Validator, header string) error {
	token, err := BearerToken(header)
	if err != nil {
		return err
	}

	ok, err := v.Validate(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenStore, err)
	}
	if !ok {
		return ErrInvalidToken
	}
	return nil
}

// OpenAPIAuthenticator checks the bearer security requirement of a request
// matched by the OpenAPI request validator.
func OpenAPIAuthenticator(v Validator, logger *zap.Logger) openapi3filter.AuthenticationFunc {
	return func(ctx context.Context, input *openapi3filter.AuthenticationInput) error {
		if input.SecuritySchemeName != BearerScheme {
			return fmt.Errorf("unsupported security scheme %q", input.SecuritySchemeName)
		}

		r := input.RequestValidationInput.Request
		header := r.Header.Get("Authorization")
		err := Authenticate(ctx, v, header)
		switch {
		case err == nil:
		case errors.Is(err, ErrMissingToken):
			logger.Debug("authorization header not found", zap.String("path", r.URL.Path))
		case errors.Is(err, ErrInvalidToken):
			logger.Debug("rejected token", zap.String("token", maskToken(strings.TrimPrefix(header, "Bearer "))))
		default:
			logger.Error("token verification failed", zap.Error(err))
		}
		return err
	}
}

// Rejection maps a request validation failure to the response status and
// detail. Authentication failures keep their own wording; other failures
// pass through.
func Rejection(message string, status int) (int, string) {
	switch {
	case strings.Contains(message, ErrTokenStore.Error()):
		return http.StatusInternalServerError, "Database error"
	case strings.Contains(message, ErrMissingToken.Error()):
		return http.StatusUnauthorized, "Authorization header missing"
	case strings.Contains(message, ErrInvalidToken.Error()), status == http.StatusUnauthorized:
		return http.StatusUnauthorized, "Invalid or expired token"
	default:
		return status, message
	}
}

// WriteError writes a {"detail": ...} JSON error body.
func WriteError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Detail: detail})
}

// maskToken masks a token, showing only the first 4 characters.
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
