package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"food-auth-service/internal/bucketing"
	"food-auth-service/internal/model"
	"food-auth-service/internal/models"
	"food-auth-service/internal/util"
)

// UserRepository stores users partitioned by user bucket, with phone_to_user
// as the unique phone-hash index. Phone numbers are only stored encrypted.
type UserRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
}

func NewUserRepository(client *ScyllaClient, buckets *bucketing.BucketingManager) *UserRepository {
	return &UserRepository{
		client:  client,
		buckets: buckets,
	}
}

func rowToUser(row models.User) *model.User {
	return &model.User{
		ID:             row.UserID,
		Name:           row.Name,
		PhoneHash:      row.PhoneHash,
		PhoneEncrypted: row.PhoneEncrypted,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
}

// claimedBy reads the owner of an existing phone_to_user row from the values a
// failed IF NOT EXISTS returns.
func claimedBy(previous map[string]interface{}) (models.PhoneToUser, bool) {
	userID, _ := previous["user_id"].(string)
	bucket, ok := previous["user_bucket"].(int)
	if userID == "" || !ok {
		return models.PhoneToUser{}, false
	}
	return models.PhoneToUser{UserBucket: bucket, UserID: userID}, true
}

// insertUser writes the users row if absent. A row already present under the
// same id was written by a concurrent completion of the same claim.
func (r *UserRepository) insertUser(ctx context.Context, row models.User) error {
	_, err := r.client.Query(ctx, r.client.Stmt.CreateUser,
		row.UserBucket, row.UserID, row.PhoneHash, row.PhoneEncrypted, row.Name, row.CreatedAt, row.UpdatedAt,
	).MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to create user",
			zap.String("user_id", row.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// CreateUser claims the phone hash first so two concurrent sign-ups cannot
// both create a user for the same phone. A claim whose users row is missing
// (the insert after the claim failed, or is still in flight) is completed
// under the claimed id and user.ID is updated to it.
func (r *UserRepository) CreateUser(ctx context.Context, user *model.User) error {
	row := models.User{
		UserBucket:     r.buckets.GetUserBucket(user.ID),
		UserID:         user.ID,
		PhoneHash:      user.PhoneHash,
		PhoneEncrypted: user.PhoneEncrypted,
		Name:           user.Name,
		CreatedAt:      user.CreatedAt,
		UpdatedAt:      user.UpdatedAt,
	}

	previous := map[string]interface{}{}
	applied, err := r.client.Query(ctx, r.client.Stmt.CreatePhoneToUser,
		row.PhoneHash, row.UserBucket, row.UserID, row.CreatedAt,
	).MapScanCAS(previous)
	if err != nil {
		util.Error("Failed to claim phone for user",
			zap.String("user_id", user.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	if !applied {
		owner, ok := claimedBy(previous)
		if !ok {
			return model.ErrRecordExists
		}
		_, err := r.getUser(ctx, owner.UserBucket, owner.UserID)
		if !errors.Is(err, model.ErrRecordNotFound) {
			if err != nil {
				return err
			}
			return model.ErrRecordExists
		}
		util.Warn("Completing phone claim without user row", zap.String("user_id", owner.UserID))
		row.UserBucket, row.UserID = owner.UserBucket, owner.UserID
	}

	if err := r.insertUser(ctx, row); err != nil {
		return err
	}
	user.ID = row.UserID

	util.Info("User created successfully",
		zap.String("user_id", user.ID),
		zap.Int("user_bucket", row.UserBucket))
	return nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	return r.getUser(ctx, r.buckets.GetUserBucket(userID), userID)
}

func (r *UserRepository) getUser(ctx context.Context, bucket int, userID string) (*model.User, error) {
	var row models.User
	query := r.client.Query(ctx, r.client.Stmt.GetUserByID, bucket, userID)

	err := r.client.ScanWithRetry(query,
		&row.UserBucket, &row.UserID, &row.PhoneHash, &row.PhoneEncrypted,
		&row.Name, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, model.ErrRecordNotFound
		}
		util.Error("Failed to get user by ID",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return rowToUser(row), nil
}

func (r *UserRepository) GetUserByPhoneHash(ctx context.Context, phoneHash string) (*model.User, error) {
	var link models.PhoneToUser
	query := r.client.Query(ctx, r.client.Stmt.GetUserByPhone, phoneHash)

	if err := r.client.ScanWithRetry(query, &link.UserBucket, &link.UserID); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, model.ErrRecordNotFound
		}
		util.Error("Failed to get user by phone hash", zap.Error(err))
		return nil, fmt.Errorf("failed to get user by phone hash: %w", err)
	}

	return r.getUser(ctx, link.UserBucket, link.UserID)
}

func (r *UserRepository) UpdateUserName(ctx context.Context, userID, name string, updatedAt time.Time) error {
	applied, err := r.client.Query(ctx, r.client.Stmt.UpdateUserName,
		name, updatedAt, r.buckets.GetUserBucket(userID), userID,
	).MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to update user name",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to update user name: %w", err)
	}
	if !applied {
		return model.ErrRecordNotFound
	}
	return nil
}
