package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"task-reminder/internal/model"
)

// UserRepository handles CRUD for users.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertFromTelegram finds or creates a user based on TelegramID and updates basic profile info.
func (r *UserRepository) UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error) {
	var user model.User
	db := r.db.WithContext(ctx)
	err := db.Where("telegram_id = ?", telegramID).First(&user).Error
	switch {
	case err == nil:
		if user.FirstName == firstName && user.LastName == lastName && user.Username == username {
			return &user, nil
		}
		updates := map[string]interface{}{
			"first_name": firstName,
			"last_name":  lastName,
			"username":   username,
		}
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			return nil, storageErr("update user", err)
		}
		user.FirstName, user.LastName, user.Username = firstName, lastName, username
		return &user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = model.User{
			TelegramID: telegramID,
			FirstName:  firstName,
			LastName:   lastName,
			Username:   username,
			Timezone:   model.DefaultTimezone,
		}
		if err := db.Create(&user).Error; err != nil {
			return nil, storageErr("create user", err)
		}
		return &user, nil
	default:
		return nil, storageErr("find user", err)
	}
}

// FindByIDs loads users in one query. Unknown ids are absent from the result.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []uint) (map[uint]model.User, error) {
	out := make(map[uint]model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []model.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, storageErr("find users", err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// ListActive returns users owning at least one task.
func (r *UserRepository) ListActive(ctx context.Context) ([]model.User, error) {
	db := r.db.WithContext(ctx)
	var users []model.User
	if err := db.Where("id IN (?)", db.Model(&model.Task{}).Select("user_id")).
		Order("id ASC").
		Find(&users).Error; err != nil {
		return nil, storageErr("list active users", err)
	}
	return users, nil
}

func (r *UserRepository) UpdateTimezone(ctx context.Context, userID uint, timezone string) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Update("timezone", timezone)
	if res.Error != nil {
		return storageErr("update timezone", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update timezone: user %d: %w", userID, ErrNotFound)
	}
	return nil
}
