package middlewares

import (
	"context"
	"encoding/json"
	"net/http"

	h "homevault/internal/helpers"

	"github.com/go-playground/validator/v10"
)

type validatedBodyKey struct{}

var validate *validator.Validate

func InitValidator() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// Validate decodes and validates the JSON request body as T, then stashes
// it in the request context for the handler wrappers.
func Validate[T any](next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body T

		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&body); err != nil {
			h.RespondWithError(w, 400, []string{"INVALID_BODY"})
			return
		}

		if err := validate.Struct(body); err != nil {
			h.RespondWithError(w, 400, []string{"INVALID_BODY"})
			return
		}

		ctx := context.WithValue(r.Context(), validatedBodyKey{}, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetValidatedBody retrieves the body stored by Validate.
func GetValidatedBody[T any](ctx context.Context) (T, bool) {
	body, ok := ctx.Value(validatedBodyKey{}).(T)
	return body, ok
}
