package engine

// Position 表示一笔（可能多次加仓的）持仓，持有其全部订单。
// 首单成交时创建，加仓单扩展，平仓后整体转入已关闭集合。
type Position struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	Quantity   float64 `json:"quantity"`
	Orders     []Order `json:"orders"`
}

// AveragePrice 返回已成交订单的按金额加权均价。
func (p *Position) AveragePrice() float64 {
	var totalCost, totalQty float64
	for _, o := range p.Orders {
		if o.Status != OrderFilled {
			continue
		}
		totalCost += o.Price * o.Quantity
		totalQty += o.Quantity
	}
	if totalQty <= 0 {
		return p.EntryPrice
	}
	return totalCost / totalQty
}

// UnrealizedPnL 以 mark 价计算未实现盈亏。
func (p *Position) UnrealizedPnL(mark float64) float64 {
	avg := p.AveragePrice()
	if p.Side == SideLong {
		return (mark - avg) * p.Quantity
	}
	return (avg - mark) * p.Quantity
}

// CostBasis 返回已成交订单的名义成本合计（price*qty）。
func (p *Position) CostBasis() float64 {
	var total float64
	for _, o := range p.Orders {
		if o.Status != OrderFilled {
			continue
		}
		total += o.Price * o.Quantity
	}
	return total
}

// MarginUsed 返回全部订单占用的保证金合计。
func (p *Position) MarginUsed(leverage float64) float64 {
	var total float64
	for _, o := range p.Orders {
		total += o.Margin(leverage)
	}
	return total
}

// OpenCommission 返回全部已成交订单的开仓手续费合计。
func (p *Position) OpenCommission(rate float64) float64 {
	var total float64
	for _, o := range p.Orders {
		if o.Status != OrderFilled {
			continue
		}
		total += o.Commission(rate)
	}
	return total
}

// FilledAddOns 返回已成交加仓单数量。
func (p *Position) FilledAddOns() int {
	n := 0
	for _, o := range p.Orders {
		if o.AddOn && o.Status == OrderFilled {
			n++
		}
	}
	return n
}

// TotalAddOns 返回全部加仓单数量（含未成交）。
func (p *Position) TotalAddOns() int {
	n := 0
	for _, o := range p.Orders {
		if o.AddOn {
			n++
		}
	}
	return n
}
