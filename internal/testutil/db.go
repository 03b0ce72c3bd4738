// Package testutil 测试辅助：基于内存 sqlite 的 GORM 实例与种子数据
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/localhunt/internal/datamodels/product"
	"github.com/example/localhunt/internal/datamodels/user"
	"github.com/example/localhunt/internal/datamodels/vendor"
	"github.com/example/localhunt/internal/repository/mysql"
)

// NewDB 每个测试独享一个内存库，结构与线上一致
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, mysql.Migrate(db))
	return db
}

// Fixtures 常用种子数据的 ID
type Fixtures struct {
	Buyers   []int64
	Vendors  []int64
	Products []int64
}

// Seed 写入 n 个买家、n 个商家与 n 个商品
func Seed(t *testing.T, db *gorm.DB, n int) Fixtures {
	t.Helper()
	ctx := context.Background()
	users := mysql.NewUserRepository(db)
	vendors := mysql.NewVendorRepository(db)
	products := mysql.NewProductRepository(db)

	var fx Fixtures
	for i := 1; i <= n; i++ {
		u := &user.User{Username: fmt.Sprintf("buyer%d", i), DisplayName: fmt.Sprintf("Buyer %d", i)}
		require.NoError(t, users.Create(ctx, u))
		fx.Buyers = append(fx.Buyers, u.ID)

		v := &vendor.Vendor{ShopName: fmt.Sprintf("Shop %d", i), Status: vendor.StatusApproved}
		require.NoError(t, vendors.Create(ctx, v))
		fx.Vendors = append(fx.Vendors, v.ID)

		p := &product.Product{VendorID: v.ID, Name: fmt.Sprintf("Item %d", i), Price: int64(100 * i), Status: 1}
		require.NoError(t, products.Create(ctx, p))
		fx.Products = append(fx.Products, p.ID)
	}
	return fx
}
