package models

import (
	"github.com/shopspring/decimal"
)

type CurrencyType string

const (
	CurrencyUSD CurrencyType = "USD"
	CurrencyETH CurrencyType = "ETH"
	CurrencyBTC CurrencyType = "BTC"
)

// Currencies lists every settlement currency.
var Currencies = []CurrencyType{CurrencyUSD, CurrencyETH, CurrencyBTC}

// Exponent is the minor-unit scale amounts are ledgered in: cents for
// USD, gwei for ETH, satoshi for BTC.
func (c CurrencyType) Exponent() int32 {
	switch c {
	case CurrencyETH:
		return 9
	case CurrencyBTC:
		return 8
	default:
		return 2
	}
}

// Money is a currency-tagged amount in minor units.
type Money struct {
	Amount   int64        `json:"amount"`
	Currency CurrencyType `json:"currency"`
}

// Payment is one settled partial payment, with the exchange rate captured
// at transaction time so historic totals never re-price.
type Payment struct {
	Amount   int64           `json:"amount"`
	Currency CurrencyType    `json:"currency"`
	Rate     decimal.Decimal `json:"rate"`
}

// CurrencyTotals accumulates amounts per settlement currency. The zero
// value is usable: documents deserialized with a null totals field get
// their map on the first Add.
type CurrencyTotals map[CurrencyType]int64

func (t *CurrencyTotals) Add(currency CurrencyType, amount int64) {
	if *t == nil {
		*t = CurrencyTotals{}
	}
	(*t)[currency] += amount
}

func (t CurrencyTotals) Get(currency CurrencyType) int64 {
	return t[currency]
}

// Converted returns the payment amount in the ticket's pricing currency,
// using the rate recorded when the payment landed, rounded to whole units.
func (p Payment) Converted() int64 {
	return decimal.NewFromInt(p.Amount).Mul(p.Rate).Round(0).IntPart()
}

// CalcTotal sums per-currency payment lists into a single normalized total
// using each payment's rate at time of transaction.
func CalcTotal(payments map[CurrencyType][]Payment) int64 {
	var total int64
	for _, list := range payments {
		for _, payment := range list {
			total += payment.Converted()
		}
	}
	return total
}
