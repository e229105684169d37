package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type RuleType string

const (
	RuleTypeDiscount RuleType = "discount"
	RuleTypeBuyNGetN RuleType = "buy_n_get_n"
	RuleTypeCombo    RuleType = "combo"
)

// Rule is the promotional payload of a campaign. The set of implementations
// is closed: DiscountRule, BuyNGetNRule and ComboRule.
type Rule interface {
	Type() RuleType
	Validate() error
	// References lists every product id the rule depends on.
	References() []string
	isRule()
}

type DiscountScope string

const (
	ScopeProduct DiscountScope = "product"
	ScopeReceipt DiscountScope = "receipt"
)

type DiscountRule struct {
	Scope      DiscountScope   `json:"scope"`
	ProductIDs []string        `json:"product_ids,omitempty"`
	MinAmount  decimal.Decimal `json:"min_amount"`
	Percent    decimal.Decimal `json:"percent"`
}

func (DiscountRule) Type() RuleType { return RuleTypeDiscount }
func (DiscountRule) isRule()        {}

func (r DiscountRule) References() []string {
	if r.Scope != ScopeProduct {
		return nil
	}
	return r.ProductIDs
}

func (r DiscountRule) Validate() error {
	if err := validatePercent(r.Percent); err != nil {
		return err
	}
	switch r.Scope {
	case ScopeProduct:
		if len(r.ProductIDs) == 0 {
			return fmt.Errorf("%w: product discount needs at least one product", ErrValidation)
		}
		return validateProductIDs(r.ProductIDs)
	case ScopeReceipt:
		if r.MinAmount.IsNegative() {
			return fmt.Errorf("%w: min amount cannot be negative", ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown discount scope %q", ErrValidation, r.Scope)
	}
}

type BuyNGetNRule struct {
	BuyProductID string `json:"buy_product_id"`
	BuyQty       int    `json:"buy_quantity"`
	GetProductID string `json:"get_product_id"`
	GetQty       int    `json:"get_quantity"`
}

func (BuyNGetNRule) Type() RuleType { return RuleTypeBuyNGetN }
func (BuyNGetNRule) isRule()        {}

func (r BuyNGetNRule) References() []string {
	if r.BuyProductID == r.GetProductID {
		return []string{r.BuyProductID}
	}
	return []string{r.BuyProductID, r.GetProductID}
}

func (r BuyNGetNRule) Validate() error {
	if strings.TrimSpace(r.BuyProductID) == "" || strings.TrimSpace(r.GetProductID) == "" {
		return fmt.Errorf("%w: buy and get products are required", ErrValidation)
	}
	if r.BuyQty < 1 || r.GetQty < 1 {
		return fmt.Errorf("%w: buy and get quantities must be positive", ErrValidation)
	}
	return nil
}

type ComboKind string

const (
	ComboPercent ComboKind = "percent"
	ComboFixed   ComboKind = "fixed"
)

type ComboRule struct {
	ProductIDs []string        `json:"product_ids"`
	Kind       ComboKind       `json:"kind"`
	Value      decimal.Decimal `json:"value"`
}

func (ComboRule) Type() RuleType { return RuleTypeCombo }
func (ComboRule) isRule()        {}

func (r ComboRule) References() []string { return r.ProductIDs }

func (r ComboRule) Validate() error {
	if len(r.ProductIDs) < 2 {
		return fmt.Errorf("%w: combo needs at least two products", ErrValidation)
	}
	if err := validateProductIDs(r.ProductIDs); err != nil {
		return err
	}
	switch r.Kind {
	case ComboPercent:
		return validatePercent(r.Value)
	case ComboFixed:
		if !r.Value.IsPositive() {
			return fmt.Errorf("%w: fixed combo value must be positive", ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown combo kind %q", ErrValidation, r.Kind)
	}
}

func validatePercent(p decimal.Decimal) error {
	if !p.IsPositive() || p.GreaterThan(hundred) {
		return fmt.Errorf("%w: percent must be in (0, 100]", ErrValidation)
	}
	return nil
}

func validateProductIDs(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: empty product id", ErrValidation)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate product id %s", ErrValidation, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

type ruleEnvelope struct {
	Type   RuleType        `json:"type"`
	Params json.RawMessage `json:"params"`
}

// MarshalRule encodes a rule as {"type": ..., "params": {...}}.
func MarshalRule(r Rule) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil rule", ErrValidation)
	}
	params, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleEnvelope{Type: r.Type(), Params: params})
}

func UnmarshalRule(data []byte) (Rule, error) {
	var env ruleEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var rule Rule
	switch env.Type {
	case RuleTypeDiscount:
		var r DiscountRule
		if err := json.Unmarshal(env.Params, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		rule = r
	case RuleTypeBuyNGetN:
		var r BuyNGetNRule
		if err := json.Unmarshal(env.Params, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		rule = r
	case RuleTypeCombo:
		var r ComboRule
		if err := json.Unmarshal(env.Params, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		rule = r
	default:
		return nil, fmt.Errorf("%w: unknown rule type %q", ErrValidation, env.Type)
	}
	return rule, nil
}
