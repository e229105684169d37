// Package discount evaluates draft receipt lines against the active campaign
// catalog. Evaluation always starts from the drafts, so it is idempotent.
package discount

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kassa/backend/internal/domain"
)

type ProductLookup interface {
	Product(id string) (domain.Product, bool)
}

// ProductMap is the ProductLookup the service builds from a catalog snapshot.
type ProductMap map[string]domain.Product

func (m ProductMap) Product(id string) (domain.Product, bool) {
	p, ok := m[id]
	return p, ok
}

func NewProductMap(products []domain.Product) ProductMap {
	out := make(ProductMap, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out
}

type Engine struct {
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

type candidate struct {
	campaign domain.Campaign
	amount   decimal.Decimal
}

type workLine struct {
	productID   string
	quantity    int
	unitPrice   decimal.Decimal
	subtotal    decimal.Decimal
	synthesized bool
	best        *candidate
}

// offer records amount for c unless an earlier campaign already offered at
// least as much.
func (l *workLine) offer(c domain.Campaign, amount decimal.Decimal) {
	amount = domain.MinMoney(domain.RoundMoney(amount), l.subtotal)
	if !amount.IsPositive() {
		return
	}
	if l.best != nil && !amount.GreaterThan(l.best.amount) {
		return
	}
	l.best = &candidate{campaign: c, amount: amount}
}

type pass struct {
	real        []*workLine
	byProduct   map[string]*workLine
	synthesized []*workLine
	synthByID   map[string]*workLine
	products    ProductLookup
}

// Evaluate prices drafts against campaigns. Campaigns are considered in the
// given order and at most one discount lands on each line: the largest, with
// ties going to the earlier campaign.
func (e *Engine) Evaluate(drafts []domain.DraftLine, campaigns []domain.Campaign, products ProductLookup) (domain.Evaluation, error) {
	if products == nil {
		products = ProductMap{}
	}
	p, err := newPass(drafts, products)
	if err != nil {
		return domain.Evaluation{}, err
	}

	for _, campaign := range campaigns {
		if campaign.Rule == nil {
			return domain.Evaluation{}, fmt.Errorf("%w: campaign %s has no rule", domain.ErrValidation, campaign.ID)
		}
		if err := campaign.Rule.Validate(); err != nil {
			return domain.Evaluation{}, fmt.Errorf("campaign %s: %w", campaign.ID, err)
		}
		if missing, ok := p.missingReference(campaign.Rule); ok {
			e.logger.Debug("skipping campaign with unknown product",
				zap.String("campaign_id", campaign.ID),
				zap.String("product_id", missing),
			)
			continue
		}

		switch rule := campaign.Rule.(type) {
		case domain.DiscountRule:
			p.applyDiscount(campaign, rule)
		case domain.BuyNGetNRule:
			p.applyBuyNGetN(campaign, rule)
		case domain.ComboRule:
			p.applyCombo(campaign, rule)
		default:
			return domain.Evaluation{}, fmt.Errorf("%w: unsupported rule %T", domain.ErrValidation, rule)
		}
	}

	return p.result(), nil
}

func newPass(drafts []domain.DraftLine, products ProductLookup) (*pass, error) {
	p := &pass{
		byProduct: make(map[string]*workLine, len(drafts)),
		synthByID: make(map[string]*workLine),
		products:  products,
	}
	for _, d := range drafts {
		if d.Quantity < 1 {
			return nil, fmt.Errorf("%w: draft %s has quantity %d", domain.ErrValidation, d.ProductID, d.Quantity)
		}
		if d.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: draft %s has negative price", domain.ErrValidation, d.ProductID)
		}
		if existing, ok := p.byProduct[d.ProductID]; ok {
			existing.quantity += d.Quantity
			existing.subtotal = lineSubtotal(existing.unitPrice, existing.quantity)
			continue
		}
		line := &workLine{
			productID: d.ProductID,
			quantity:  d.Quantity,
			unitPrice: d.UnitPrice,
			subtotal:  lineSubtotal(d.UnitPrice, d.Quantity),
		}
		p.real = append(p.real, line)
		p.byProduct[d.ProductID] = line
	}
	return p, nil
}

func (p *pass) missingReference(rule domain.Rule) (string, bool) {
	for _, id := range rule.References() {
		if _, ok := p.products.Product(id); !ok {
			return id, true
		}
	}
	return "", false
}

func (p *pass) applyDiscount(c domain.Campaign, rule domain.DiscountRule) {
	switch rule.Scope {
	case domain.ScopeProduct:
		for _, id := range rule.ProductIDs {
			if line, ok := p.byProduct[id]; ok {
				line.offer(c, domain.PercentOf(line.subtotal, rule.Percent))
			}
		}
	case domain.ScopeReceipt:
		subtotal := sumSubtotals(p.real)
		if !subtotal.IsPositive() || subtotal.LessThan(rule.MinAmount) {
			return
		}
		distribute(c, p.real, domain.PercentOf(subtotal, rule.Percent))
	}
}

func (p *pass) applyBuyNGetN(c domain.Campaign, rule domain.BuyNGetNRule) {
	buyLine, ok := p.byProduct[rule.BuyProductID]
	if !ok {
		return
	}
	bought := buyLine.quantity
	multiples := bought / rule.BuyQty
	if multiples == 0 {
		return
	}
	free := multiples * rule.GetQty

	if rule.GetProductID == rule.BuyProductID {
		free = min(free, bought)
		buyLine.offer(c, lineSubtotal(buyLine.unitPrice, free))
		return
	}

	if getLine, ok := p.byProduct[rule.GetProductID]; ok {
		free = min(free, getLine.quantity)
		getLine.offer(c, lineSubtotal(getLine.unitPrice, free))
		return
	}

	line := p.synthesize(rule.GetProductID, free)
	line.offer(c, lineSubtotal(line.unitPrice, free))
}

// synthesize returns the gift line for productID, growing it to qty if an
// earlier campaign already created a smaller one.
func (p *pass) synthesize(productID string, qty int) *workLine {
	if line, ok := p.synthByID[productID]; ok {
		if qty > line.quantity {
			line.quantity = qty
			line.subtotal = lineSubtotal(line.unitPrice, qty)
		}
		return line
	}
	product, _ := p.products.Product(productID)
	line := &workLine{
		productID:   productID,
		quantity:    qty,
		unitPrice:   product.Price,
		subtotal:    lineSubtotal(product.Price, qty),
		synthesized: true,
	}
	p.synthesized = append(p.synthesized, line)
	p.synthByID[productID] = line
	return line
}

func (p *pass) applyCombo(c domain.Campaign, rule domain.ComboRule) {
	lines := make([]*workLine, 0, len(rule.ProductIDs))
	for _, id := range rule.ProductIDs {
		line, ok := p.byProduct[id]
		if !ok {
			return
		}
		lines = append(lines, line)
	}

	switch rule.Kind {
	case domain.ComboPercent:
		for _, line := range lines {
			line.offer(c, domain.PercentOf(line.subtotal, rule.Value))
		}
	case domain.ComboFixed:
		subtotal := sumSubtotals(lines)
		if !subtotal.IsPositive() {
			return
		}
		distribute(c, lines, domain.MinMoney(rule.Value, subtotal))
	}
}

// distribute splits total across lines in proportion to their subtotals. The
// last line takes the rounding residue so the shares add up to total.
func distribute(c domain.Campaign, lines []*workLine, total decimal.Decimal) {
	total = domain.RoundMoney(total)
	base := sumSubtotals(lines)
	if !base.IsPositive() || !total.IsPositive() {
		return
	}
	allocated := decimal.Zero
	for i, line := range lines {
		remaining := total.Sub(allocated)
		share := remaining
		if i < len(lines)-1 {
			share = domain.MinMoney(domain.RoundMoney(total.Mul(line.subtotal).Div(base)), remaining)
		}
		allocated = allocated.Add(share)
		line.offer(c, share)
	}
}

func (p *pass) result() domain.Evaluation {
	all := make([]*workLine, 0, len(p.real)+len(p.synthesized))
	all = append(all, p.real...)
	all = append(all, p.synthesized...)

	ev := domain.Evaluation{
		Lines:         make([]domain.EvaluatedLine, 0, len(all)),
		Subtotal:      decimal.Zero,
		DiscountTotal: decimal.Zero,
		GrandTotal:    decimal.Zero,
	}
	for _, line := range all {
		out := domain.EvaluatedLine{
			ProductID:    line.productID,
			Quantity:     line.quantity,
			UnitPrice:    line.unitPrice,
			LineSubtotal: line.subtotal,
			Discounts:    []domain.AppliedDiscount{},
			FinalPrice:   line.subtotal,
			Synthesized:  line.synthesized,
		}
		if line.best != nil {
			out.Discounts = append(out.Discounts, domain.AppliedDiscount{
				CampaignID:   line.best.campaign.ID,
				CampaignName: line.best.campaign.Name,
				Amount:       line.best.amount,
			})
			out.FinalPrice = line.subtotal.Sub(line.best.amount)
			ev.DiscountTotal = ev.DiscountTotal.Add(line.best.amount)
		}
		ev.Subtotal = ev.Subtotal.Add(line.subtotal)
		ev.Lines = append(ev.Lines, out)
	}
	ev.GrandTotal = ev.Subtotal.Sub(ev.DiscountTotal)
	return ev
}

func lineSubtotal(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty)))
}

func sumSubtotals(lines []*workLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.subtotal)
	}
	return total
}
