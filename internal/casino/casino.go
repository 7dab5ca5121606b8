package casino

import "time"

// Casino is one reviewed casino as shown in the public listing
type Casino struct {
	ID             int       `json:"id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	Website        string    `json:"website"`
	License        string    `json:"license"`
	Rating         float64   `json:"rating"`
	Description    string    `json:"description"`
	Pros           []string  `json:"pros"`
	Cons           []string  `json:"cons"`
	PaymentMethods []string  `json:"paymentMethods"`
	Featured       bool      `json:"featured"`
	Published      bool      `json:"published"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Bonus struct {
	ID         int        `json:"id"`
	CasinoID   int        `json:"casinoId"`
	Title      string     `json:"title"`
	BonusType  string     `json:"bonusType"`
	Amount     string     `json:"amount"`
	Wagering   string     `json:"wagering"`
	PromoCode  string     `json:"promoCode"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type ListParams struct {
	Page               int
	Size               int
	Query              string
	MinRating          float64
	FeaturedOnly       bool
	IncludeUnpublished bool
}

type ListResponse struct {
	Casinos []Casino `json:"casinos"`
	Total   int      `json:"total"`
	Page    int      `json:"page"`
	Size    int      `json:"size"`
}
