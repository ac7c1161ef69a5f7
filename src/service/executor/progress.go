package executor

import "time"

// Progress accumulates fills across a run. The decision loop is the only
// writer.
type Progress struct {
	Filled       float64
	TotalValue   float64
	LastActivity time.Time
}

func (p *Progress) ApplyFill(size, price float64, now time.Time) {
	p.Filled += size
	p.TotalValue += size * price
	p.LastActivity = now
}

func (p *Progress) Touch(now time.Time) {
	p.LastActivity = now
}

// AveragePrice is the volume-weighted average fill price.
func (p *Progress) AveragePrice() float64 {
	if p.Filled == 0 {
		return 0
	}
	return p.TotalValue / p.Filled
}
