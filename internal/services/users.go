package services

import (
	apierrors "homevault/internal/errors"
	"homevault/internal/handlers"
	"homevault/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type UserService struct {
	DB *gorm.DB
}

func (s UserService) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/me", handlers.GetOneHandler(s.GetProfile))
	return r
}

func (s UserService) GetProfile(
	_ *zap.Logger,
	claims models.UserClaims,
	_ uuid.UUIDs,
) (models.User, error) {
	var user models.User
	result := s.DB.Where("id = ?", claims.UserID).First(&user)
	if result.RowsAffected == 0 {
		return models.User{}, apierrors.NewAPIError(404, "USER_NOT_FOUND")
	}
	return user, nil
}
