package mysql

import (
	"context"
	"fmt"

	"github.com/example/localhunt/internal/datamodels/chat"
	"github.com/example/localhunt/internal/datamodels/party"
	"github.com/example/localhunt/internal/datamodels/product"
	"github.com/example/localhunt/internal/datamodels/user"
	"github.com/example/localhunt/internal/datamodels/vendor"
)

type partyDirectory struct {
	users   user.Repository
	vendors vendor.Repository
}

// NewPartyDirectory 基于 users / vendors 表的会话方目录
func NewPartyDirectory(users user.Repository, vendors vendor.Repository) party.Directory {
	return &partyDirectory{users: users, vendors: vendors}
}

func (d *partyDirectory) Resolve(ctx context.Context, p chat.Party) (*party.Profile, error) {
	switch p.Side {
	case chat.SideRequester:
		u, err := d.users.GetByID(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		return &party.Profile{Party: p, DisplayName: u.Name(), Avatar: u.Avatar}, nil
	case chat.SideCounterparty:
		v, err := d.vendors.GetByID(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		return &party.Profile{Party: p, DisplayName: v.ShopName, Avatar: v.Avatar}, nil
	}
	return nil, fmt.Errorf("invalid side %q", p.Side)
}

type catalog struct {
	products product.Repository
}

// NewCatalog 基于 products 表的商品目录
func NewCatalog(products product.Repository) product.Catalog {
	return &catalog{products: products}
}

func (c *catalog) Resolve(ctx context.Context, id int64) (*product.Item, error) {
	p, err := c.products.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &product.Item{ID: p.ID, DisplayName: p.Name}, nil
}
