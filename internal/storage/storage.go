// Package storage is the document-store collaborator. The relay core only
// sees the narrow repository interfaces; everything gorm-specific stays
// here.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type User struct {
	ID     string `gorm:"primaryKey"`
	Handle string
}

// CombatSave is a persisted combat preset the creation endpoint can
// reference by id instead of inlining the save.
type CombatSave struct {
	ID        string          `gorm:"primaryKey"`
	Nickname  string
	GMID      string
	PlayerIDs json.RawMessage `gorm:"type:jsonb"`
	Save      json.RawMessage `gorm:"type:jsonb"`
}

type UserRepo interface {
	GetUser(ctx context.Context, id string) (*User, error)
}

type SaveRepo interface {
	GetSave(ctx context.Context, id string) (*CombatSave, error)
}

// Open connects to postgres and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&User{}, &CombatSave{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

type Users struct{ db *gorm.DB }

func NewUsers(db *gorm.DB) *Users { return &Users{db: db} }

func (r *Users) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

type Saves struct{ db *gorm.DB }

func NewSaves(db *gorm.DB) *Saves { return &Saves{db: db} }

func (r *Saves) GetSave(ctx context.Context, id string) (*CombatSave, error) {
	var s CombatSave
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get combat save %s: %w", id, err)
	}
	return &s, nil
}
