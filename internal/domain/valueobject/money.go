package valueobject

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/billing-engine/internal/pkg/apperror"
)

// minorUnitPlaces — количество знаков минорной единицы валюты.
// Все суммы в движке хранятся и сравниваются с этой точностью.
const minorUnitPlaces = 2

type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if amount.IsNegative() {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "сумма не может быть отрицательной")
	}
	if currency == "" {
		currency = "USD"
	}
	return Money{Amount: RoundMinor(amount), Currency: currency}, nil
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Currency, m.Amount.StringFixed(minorUnitPlaces))
}

// RoundMinor округляет сумму до минорной единицы валюты по правилу
// half-up. Правило зафиксировано: неизменяемость счетов требует
// детерминированной арифметики.
func RoundMinor(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(minorUnitPlaces)
}

// FeeSplit — результат разбиения брутто-суммы на комиссию и нетто.
// Инвариант Gross - Fee = Net держится точно: нетто вычисляется из уже
// округлённой комиссии, а не округляется само.
type FeeSplit struct {
	Gross decimal.Decimal
	Fee   decimal.Decimal
	Net   decimal.Decimal
}

// SplitFee вычисляет комиссию платформы по ставке rate.
func SplitFee(gross, rate decimal.Decimal) FeeSplit {
	gross = RoundMinor(gross)
	fee := RoundMinor(gross.Mul(rate))
	return FeeSplit{
		Gross: gross,
		Fee:   fee,
		Net:   gross.Sub(fee),
	}
}

// AmountForSeconds считает стоимость billable-времени:
// billable_seconds/3600 × hourly_rate, округление до минорной единицы.
func AmountForSeconds(billableSeconds int64, hourlyRate decimal.Decimal) decimal.Decimal {
	hours := decimal.NewFromInt(billableSeconds).Div(decimal.NewFromInt(3600))
	return RoundMinor(hours.Mul(hourlyRate))
}
