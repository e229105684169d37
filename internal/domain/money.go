package domain

import "github.com/shopspring/decimal"

// MoneyScale is the number of decimal places money is applied and stored at.
const MoneyScale = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to two places. Money amounts handled
// here are non-negative, so this is half-up.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// PercentOf returns round(amount * percent / 100).
func PercentOf(amount decimal.Decimal, percent decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(percent).Div(hundred))
}

func SumMoney(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

func MinMoney(a decimal.Decimal, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
