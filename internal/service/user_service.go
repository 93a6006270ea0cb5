package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"food-auth-service/internal/model"
	"food-auth-service/internal/repository"
	"food-auth-service/internal/util"
)

// UserService is the user-profile collaborator: upsert by phone and lookup by id.
// Users are keyed by the phone hash; the number itself is stored encrypted.
type UserService struct {
	store     repository.UserStore
	encryptor PhoneEncryptor
	logger    *zap.Logger
	now       func() time.Time
}

func NewUserService(store repository.UserStore, encryptor PhoneEncryptor, logger *zap.Logger) *UserService {
	return &UserService{
		store:     store,
		encryptor: encryptor,
		logger:    logger,
		now:       time.Now,
	}
}

// UpsertByPhone returns the user for phoneNumber, creating it if absent.
// A non-empty name replaces the stored display name.
func (s *UserService) UpsertByPhone(ctx context.Context, phoneNumber, name string) (*model.User, error) {
	phone, err := util.NormalizePhone(phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	name = util.SanitizeName(name)
	phoneHash := HashPhone(phone)

	// One retry covers losing a concurrent first sign-up for the same phone.
	for attempt := 0; attempt < 2; attempt++ {
		user, err := s.store.GetUserByPhoneHash(ctx, phoneHash)
		switch {
		case err == nil:
			user.PhoneNumber = phone
			return s.applyName(ctx, user, name)
		case !errors.Is(err, model.ErrRecordNotFound):
			return nil, err
		}

		user, err = s.newUser(ctx, phone, phoneHash, name)
		if err != nil {
			return nil, err
		}
		err = s.store.CreateUser(ctx, user)
		if err == nil {
			s.logger.Info("User created",
				zap.String("user_id", user.ID),
				util.Phone("phone", phone))
			return user, nil
		}
		if !errors.Is(err, model.ErrRecordExists) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed to upsert user for %s", util.MaskPhone(phone))
}

func (s *UserService) newUser(ctx context.Context, phone, phoneHash, name string) (*model.User, error) {
	now := s.now().UTC()
	user := &model.User{
		ID:          uuid.NewString(),
		Name:        name,
		PhoneNumber: phone,
		PhoneHash:   phoneHash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if s.encryptor != nil {
		encrypted, err := s.encryptor.EncryptString(ctx, phone, phoneKeyPurpose)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt phone number: %w", err)
		}
		user.PhoneEncrypted = encrypted
	}
	return user, nil
}

func (s *UserService) applyName(ctx context.Context, user *model.User, name string) (*model.User, error) {
	if name == "" || name == user.Name {
		return user, nil
	}

	now := s.now().UTC()
	if err := s.store.UpdateUserName(ctx, user.ID, name, now); err != nil {
		return nil, err
	}
	user.Name = name
	user.UpdatedAt = now
	return user, nil
}

// FindByID returns the user with its phone number decrypted.
func (s *UserService) FindByID(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if user.PhoneNumber == "" && user.PhoneEncrypted != "" && s.encryptor != nil {
		phone, err := s.encryptor.DecryptString(ctx, user.PhoneEncrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt phone number: %w", err)
		}
		user.PhoneNumber = phone
	}
	return user, nil
}

// PhoneNumber implements PhoneResolver.
func (s *UserService) PhoneNumber(ctx context.Context, userID string) (string, error) {
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.PhoneNumber, nil
}
