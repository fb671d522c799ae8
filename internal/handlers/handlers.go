package handlers

import (
	"fmt"
	"net/http"

	apierrors "homevault/internal/errors"
	h "homevault/internal/helpers"
	m "homevault/internal/middlewares"
	"homevault/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service methods share one shape: a request-scoped logger, the caller's
// claims, the uuid path parameters in order, and optionally a validated
// body. The wrappers below bridge that shape to http.HandlerFunc so
// services never touch the ResponseWriter.

func requestLogger(r *http.Request) *zap.Logger {
	return zap.L().With(
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
	)
}

func pathIDs(r *http.Request) (uuid.UUIDs, error) {
	var ids uuid.UUIDs
	for i := 0; ; i++ {
		raw := chi.URLParam(r, fmt.Sprintf("id%d", i))
		if raw == "" {
			break
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func claimsFromContext(r *http.Request) models.UserClaims {
	claims, _ := r.Context().Value(models.UserClaimKey{}).(models.UserClaims)
	return claims
}

func respond(w http.ResponseWriter, logger *zap.Logger, status int, payload any, err error) {
	if err != nil {
		if apiErr, ok := apierrors.AsAPIError(err); ok {
			h.RespondWithError(w, apiErr.Status, []string{apiErr.Code})
			return
		}
		logger.Error("Unhandled service error", zap.Error(err))
		h.RespondWithError(w, 500, []string{"INTERNAL_SERVER_ERROR"})
		return
	}

	h.RespondWithJSON(w, status, payload)
}

// CreateHandler wraps a service method that consumes a validated body and
// produces a new resource or session.
func CreateHandler[B any, R any](
	fn func(*zap.Logger, models.UserClaims, uuid.UUIDs, B) (R, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(r)

		ids, err := pathIDs(r)
		if err != nil {
			h.RespondWithError(w, 400, []string{"INVALID_ID"})
			return
		}

		body, ok := m.GetValidatedBody[B](r.Context())
		if !ok {
			h.RespondWithError(w, 400, []string{"INVALID_BODY"})
			return
		}

		response, err := fn(logger, claimsFromContext(r), ids, body)
		respond(w, logger, 200, response, err)
	}
}

// BodyHandler wraps a mutation on an existing resource that produces no
// response payload.
func BodyHandler[B any](
	fn func(*zap.Logger, models.UserClaims, uuid.UUIDs, B) error,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(r)

		ids, err := pathIDs(r)
		if err != nil {
			h.RespondWithError(w, 400, []string{"INVALID_ID"})
			return
		}

		body, ok := m.GetValidatedBody[B](r.Context())
		if !ok {
			h.RespondWithError(w, 400, []string{"INVALID_BODY"})
			return
		}

		if err = fn(logger, claimsFromContext(r), ids, body); err != nil {
			respond(w, logger, 0, nil, err)
			return
		}
		w.WriteHeader(204)
	}
}

// GetOneHandler wraps a bodyless service method.
func GetOneHandler[R any](
	fn func(*zap.Logger, models.UserClaims, uuid.UUIDs) (R, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(r)

		ids, err := pathIDs(r)
		if err != nil {
			h.RespondWithError(w, 400, []string{"INVALID_ID"})
			return
		}

		response, err := fn(logger, claimsFromContext(r), ids)
		respond(w, logger, 200, response, err)
	}
}

// GetListHandler wraps a bodyless service method returning a collection.
func GetListHandler[R any](
	fn func(*zap.Logger, models.UserClaims, uuid.UUIDs) ([]R, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(r)

		ids, err := pathIDs(r)
		if err != nil {
			h.RespondWithError(w, 400, []string{"INVALID_ID"})
			return
		}

		response, err := fn(logger, claimsFromContext(r), ids)
		if err == nil && response == nil {
			response = []R{}
		}
		respond(w, logger, 200, response, err)
	}
}

// DeleteHandler wraps a bodyless service method with no response payload.
func DeleteHandler(
	fn func(*zap.Logger, models.UserClaims, uuid.UUIDs) error,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(r)

		ids, err := pathIDs(r)
		if err != nil {
			h.RespondWithError(w, 400, []string{"INVALID_ID"})
			return
		}

		if err = fn(logger, claimsFromContext(r), ids); err != nil {
			respond(w, logger, 0, nil, err)
			return
		}
		w.WriteHeader(204)
	}
}
