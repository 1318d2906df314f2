// Package repo 保存上传图片的元数据
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("image not found")

type Image struct {
	ID           string `gorm:"primaryKey;size:27"`
	UserID       string `gorm:"index;not null"`
	Key          string `gorm:"not null"`
	URL          string `gorm:"index;not null"`
	Filename     string
	Size         int64
	ContentType  string
	Processed    bool
	ProcessedURL string
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
}

type Repo struct {
	db *gorm.DB
}

// New 打开数据库并自动迁移表结构
func New(dsn string) (*Repo, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&Image{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Debug().Str("dsn", dsn).Msg("database ready")
	return &Repo{db: db}, nil
}

func (r *Repo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Repo) Create(ctx context.Context, img *Image) error {
	if err := r.db.WithContext(ctx).Create(img).Error; err != nil {
		return fmt.Errorf("create image %s: %w", img.ID, err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, userID, id string) (Image, error) {
	var img Image
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Image{}, ErrNotFound
	}
	if err != nil {
		return Image{}, fmt.Errorf("get image %s: %w", id, err)
	}
	return img, nil
}

// List 分页列出用户的图片，最新的在前，page 从 1 开始
func (r *Repo) List(ctx context.Context, userID string, page, limit int) ([]Image, int64, error) {
	page = max(page, 1)
	limit = max(limit, 1)

	q := r.db.WithContext(ctx).Model(&Image{}).Where("user_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count images: %w", err)
	}

	images := make([]Image, 0, limit)
	err := q.Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&images).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list images: %w", err)
	}
	return images, total, nil
}

func (r *Repo) Delete(ctx context.Context, userID, id string) error {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&Image{})
	if res.Error != nil {
		return fmt.Errorf("delete image %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkProcessed 记录处理结果，url 不是该用户的上传时什么也不做
func (r *Repo) MarkProcessed(ctx context.Context, userID, url, processedURL string) error {
	err := r.db.WithContext(ctx).Model(&Image{}).
		Where("user_id = ? AND url = ?", userID, url).
		Updates(map[string]interface{}{"processed": true, "processed_url": processedURL}).Error
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}
