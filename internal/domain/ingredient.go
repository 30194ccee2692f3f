package domain

import "time"

// Ingredient is a catalog ingredient with a risk weight.
//
// Older records carry the weight under "risk"; RiskWeight wins when both are present.
type Ingredient struct {
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	RiskWeight *float64  `json:"riskWeight,omitempty"`
	Risk       *float64  `json:"risk,omitempty"`
	ID         string    `json:"id"`
	Name       string    `json:"name"`
}

// EffectiveRisk returns riskWeight, falling back to the legacy risk field, then 0.
// Negative weights count as 0.
func (i *Ingredient) EffectiveRisk() float64 {
	if i == nil {
		return 0
	}
	w := 0.0
	switch {
	case i.RiskWeight != nil:
		w = *i.RiskWeight
	case i.Risk != nil:
		w = *i.Risk
	}
	if w < 0 {
		return 0
	}
	return w
}

// Clone returns a deep copy.
func (i *Ingredient) Clone() *Ingredient {
	if i == nil {
		return nil
	}
	c := *i
	if i.RiskWeight != nil {
		v := *i.RiskWeight
		c.RiskWeight = &v
	}
	if i.Risk != nil {
		v := *i.Risk
		c.Risk = &v
	}
	return &c
}

// Link joins a product to one of its ingredients.
type Link struct {
	ProductID    string `json:"productId"`
	IngredientID string `json:"ingredientId"`
}
