package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/models"
)

// UserService handles profile lookups and user administration.
type UserService struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

func NewUserService(db *gorm.DB, log logrus.FieldLogger) *UserService {
	return &UserService{db: db, log: log.WithField("component", "users")}
}

// Profile reloads the caller's record.
func (s *UserService) Profile(ctx context.Context, caller *models.User) (*models.User, error) {
	return s.find(ctx, caller.ID)
}

func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// DeleteUser removes a non-admin account. Orders placed by the user are kept.
func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return errUserNotFound
	}

	user, err := s.find(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsAdmin {
		return newError(KindInvalidState, "Cannot delete an admin user")
	}

	if err := s.db.WithContext(ctx).Delete(&models.User{}, "id = ? AND is_admin = ?", user.ID, false).Error; err != nil {
		return err
	}

	s.log.WithField("user_id", user.ID).Info("user removed")
	return nil
}

func (s *UserService) find(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errUserNotFound
		}
		return nil, err
	}
	return &user, nil
}
