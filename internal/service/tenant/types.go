package tenant

import "context"

// Shop is a merchant account scoping all data and settings.
type Shop struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ShopLister lists the shops of the current identity.
type ShopLister interface {
	ListShops(ctx context.Context) ([]Shop, error)
}

// PointerStore persists the active shop id across restarts.
type PointerStore interface {
	ActiveShop(ctx context.Context) (string, error)
	SaveActiveShop(ctx context.Context, shopID string) error
	ClearActiveShop(ctx context.Context) error
}

// Snapshot is a consistent view of the registry.
type Snapshot struct {
	Shops    []Shop `json:"shops"`
	Selected *Shop  `json:"selected"`
	Loading  bool   `json:"loading"`
	Loaded   bool   `json:"loaded"`
	Error    string `json:"error,omitempty"`
}

// Selection describes a change of the active shop. Either side may be nil.
type Selection struct {
	Previous *Shop
	Current  *Shop
}

// ShopID returns the current shop id, or "".
func (s Selection) ShopID() string {
	if s.Current == nil {
		return ""
	}
	return s.Current.ID
}
