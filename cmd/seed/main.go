// seed 写入演示用的买家、商家和商品，配合 issue-token 在本地体验聊天
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/example/localhunt/internal/config"
	"github.com/example/localhunt/internal/datamodels/product"
	"github.com/example/localhunt/internal/datamodels/user"
	"github.com/example/localhunt/internal/datamodels/vendor"
	"github.com/example/localhunt/internal/logger"
	"github.com/example/localhunt/internal/repository/mysql"
)

var demoShops = []struct {
	shop     string
	category string
	items    []string
}{
	{"Corner Bakery", "food", []string{"Sourdough loaf", "Croissant box"}},
	{"Green Thumb Nursery", "garden", []string{"Potted basil", "Olive tree"}},
	{"Second Spin Records", "music", []string{"Jazz vinyl bundle"}},
}

func main() {
	configPath := flag.String("config", "", "yaml config file (falls back to CONFIG_PATH)")
	buyers := flag.Int("buyers", 3, "number of demo buyers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if _, err := logger.Init(&cfg.Log); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	ctx := context.Background()
	db := mysql.Init(&cfg.MySQL)
	userRepo := mysql.NewUserRepository(db)
	vendorRepo := mysql.NewVendorRepository(db)
	productRepo := mysql.NewProductRepository(db)

	fmt.Println("[1/2] 写入买家...")
	for i := 1; i <= *buyers; i++ {
		u := &user.User{Username: fmt.Sprintf("buyer%d", i), DisplayName: fmt.Sprintf("Buyer %d", i)}
		if err := userRepo.Create(ctx, u); err != nil {
			log.Fatalf("create buyer %d: %v", i, err)
		}
		fmt.Printf("  buyer   id=%d  %s\n", u.ID, u.Name())
	}

	fmt.Println("[2/2] 写入商家与商品...")
	for _, s := range demoShops {
		v := &vendor.Vendor{ShopName: s.shop, Status: vendor.StatusApproved}
		if err := vendorRepo.Create(ctx, v); err != nil {
			log.Fatalf("create vendor %s: %v", s.shop, err)
		}
		fmt.Printf("  vendor  id=%d  %s\n", v.ID, v.ShopName)
		for j, name := range s.items {
			p := &product.Product{VendorID: v.ID, Name: name, Category: s.category, Price: int64(500 * (j + 1)), Status: 1}
			if err := productRepo.Create(ctx, p); err != nil {
				log.Fatalf("create product %s: %v", name, err)
			}
			fmt.Printf("    product id=%d  %s\n", p.ID, p.Name)
		}
	}
	fmt.Println("done")
}
