package auth

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionRecord is the persisted form of a Session, one row per profile.
type SessionRecord struct {
	Profile    string    `gorm:"type:varchar(64);primaryKey"`
	Token      string    `gorm:"type:text;not null"`
	UserID     string    `gorm:"type:varchar(64)"`
	Name       string    `gorm:"type:varchar(255)"`
	Email      string    `gorm:"type:varchar(255)"`
	Role       string    `gorm:"type:varchar(16)"`
	Position   string    `gorm:"type:varchar(255)"`
	Department string    `gorm:"type:varchar(255)"`
	ExpiresAt  time.Time `gorm:"index;not null"`
	UpdatedAt  time.Time
}

func (SessionRecord) TableName() string { return "auth_sessions" }

type GormStore struct {
	db      *gorm.DB
	profile string
}

func NewGormStore(db *gorm.DB, profile string) *GormStore {
	return &GormStore{db: db, profile: profile}
}

func (g *GormStore) Load(ctx context.Context) (*Session, error) {
	var r SessionRecord
	if err := g.db.WithContext(ctx).First(&r, "profile = ?", g.profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	return &Session{
		Token: r.Token,
		User: User{
			ID:         r.UserID,
			Name:       r.Name,
			Email:      r.Email,
			Role:       Role(r.Role),
			Position:   r.Position,
			Department: r.Department,
		},
		ExpiresAt: r.ExpiresAt,
	}, nil
}

func (g *GormStore) Save(ctx context.Context, s *Session) error {
	r := SessionRecord{
		Profile:    g.profile,
		Token:      s.Token,
		UserID:     s.User.ID,
		Name:       s.User.Name,
		Email:      s.User.Email,
		Role:       string(s.User.Role),
		Position:   s.User.Position,
		Department: s.User.Department,
		ExpiresAt:  s.ExpiresAt,
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&r).Error
}

func (g *GormStore) Delete(ctx context.Context) error {
	return g.db.WithContext(ctx).
		Where("profile = ?", g.profile).
		Delete(&SessionRecord{}).Error
}
