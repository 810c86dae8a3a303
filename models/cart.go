package models

// CartLineItem is one distinct product and option combination in the cart.
type CartLineItem struct {
	ID              string   `json:"id"`
	ProductID       string   `json:"productId"`
	Quantity        int      `json:"quantity"`
	SelectedOptions []string `json:"selectedOptions"`
}
