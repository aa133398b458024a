package repository

import (
	"context"
	"errors"

	"stakevault/internal/model"

	"gorm.io/gorm"
)

var ErrPackNotFound = errors.New("投资套餐不存在")

type PackRepository struct {
	db *gorm.DB
}

func NewPackRepository(db *gorm.DB) *PackRepository {
	return &PackRepository{db: db}
}

func (r *PackRepository) GetByID(ctx context.Context, packID int64) (*model.InvestmentPack, error) {
	var pack model.InvestmentPack
	err := r.db.WithContext(ctx).Where("id = ?", packID).First(&pack).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPackNotFound
		}
		return nil, err
	}
	return &pack, nil
}

func (r *PackRepository) List(ctx context.Context) ([]*model.InvestmentPack, error) {
	var packs []*model.InvestmentPack
	err := r.db.WithContext(ctx).Order("amount ASC").Find(&packs).Error
	return packs, err
}

func (r *PackRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.InvestmentPack{}).Count(&total).Error
	return total, err
}

func (r *PackRepository) Create(ctx context.Context, pack *model.InvestmentPack) error {
	return r.db.WithContext(ctx).Create(pack).Error
}
