package mysql

import (
	"context"

	"gorm.io/gorm"

	"github.com/example/localhunt/internal/datamodels/vendor"
)

type vendorRepo struct {
	db *gorm.DB
}

// NewVendorRepository 创建商家仓储
func NewVendorRepository(db *gorm.DB) vendor.Repository {
	return &vendorRepo{db: db}
}

func (r *vendorRepo) GetByID(ctx context.Context, id int64) (*vendor.Vendor, error) {
	var v vendor.Vendor
	if err := r.db.WithContext(ctx).First(&v, id).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *vendorRepo) Create(ctx context.Context, v *vendor.Vendor) error {
	return r.db.WithContext(ctx).Create(v).Error
}
