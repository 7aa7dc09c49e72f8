package pricing

import (
	"errors"
	"unicode/utf8"

	"github.com/jmehdipour/paysms/internal/model"
)

const (
	DefaultUnitChars = 60
	DefaultUnitPrice = model.Money(100)
)

// Calculator prices content per started block of UnitChars code points.
type Calculator struct {
	unitChars int
	unitPrice model.Money
}

func NewCalculator(unitChars int, unitPrice model.Money) (*Calculator, error) {
	if unitChars <= 0 {
		return nil, errors.New("pricing: unit chars must be > 0")
	}
	if unitPrice <= 0 {
		return nil, errors.New("pricing: unit price must be > 0")
	}
	return &Calculator{unitChars: unitChars, unitPrice: unitPrice}, nil
}

// Default returns the 60 chars / 1.00 calculator.
func Default() *Calculator {
	return &Calculator{unitChars: DefaultUnitChars, unitPrice: DefaultUnitPrice}
}

// Units is the number of started billing blocks in content.
func (c *Calculator) Units(content string) int {
	n := utf8.RuneCountInString(content)
	return (n + c.unitChars - 1) / c.unitChars
}

// Cost returns ceil(len(content)/unitChars) * unitPrice.
func (c *Calculator) Cost(content string) model.Money {
	return model.Money(c.Units(content)) * c.unitPrice
}

func (c *Calculator) UnitChars() int         { return c.unitChars }
func (c *Calculator) UnitPrice() model.Money { return c.unitPrice }
