package engine

// Account 持有模拟账户的资金状态。Balance 是可用保证金余额，
// 已占用保证金在开仓时扣除、平仓时归还。
type Account struct {
	Initial        float64 `json:"initial_balance"`
	Balance        float64 `json:"balance"`
	Peak           float64 `json:"peak_balance"`
	Leverage       int     `json:"leverage"`
	CommissionRate float64 `json:"commission_rate"`
}

// NewAccount 以起始资金初始化账户，峰值从起始资金起算。
func NewAccount(initial float64, leverage int, commissionRate float64) *Account {
	if leverage < 1 {
		leverage = 1
	}
	return &Account{
		Initial:        initial,
		Balance:        initial,
		Peak:           initial,
		Leverage:       leverage,
		CommissionRate: commissionRate,
	}
}

// UpdatePeak 在余额创新高时抬升峰值。
func (a *Account) UpdatePeak() {
	if a.Balance > a.Peak {
		a.Peak = a.Balance
	}
}

// DrawdownFraction 返回距离峰值的回撤比例 (0~1)。
func (a *Account) DrawdownFraction() float64 {
	if a.Peak <= 0 {
		return 0
	}
	return (a.Peak - a.Balance) / a.Peak
}

// MarginRatio 计算保证金率: (余额+未实现盈亏)/所需保证金。
// 无持仓或所需保证金为零时返回 1.0。
func (a *Account) MarginRatio(pos *Position, markPrice float64) float64 {
	if pos == nil || pos.Quantity <= 0 {
		return 1.0
	}
	required := pos.Quantity * markPrice / float64(a.Leverage)
	if required <= 0 {
		return 1.0
	}
	return (a.Balance + pos.UnrealizedPnL(markPrice)) / required
}

// LiquidationPrice 计算强平价: 多头为均价向下、空头为均价向上
// 偏移 余额*杠杆/数量，下限为 0。无持仓返回 0。
func (a *Account) LiquidationPrice(pos *Position) float64 {
	if pos == nil || pos.Quantity <= 0 {
		return 0
	}
	offset := a.Balance * float64(a.Leverage) / pos.Quantity
	var price float64
	if pos.Side == SideLong {
		price = pos.AveragePrice() - offset
	} else {
		price = pos.AveragePrice() + offset
	}
	if price < 0 {
		return 0
	}
	return price
}

// TotalReturnPercent 返回相对初始资金的总收益率。
func (a *Account) TotalReturnPercent() float64 {
	if a.Initial <= 0 {
		return 0
	}
	return (a.Balance - a.Initial) / a.Initial * 100
}
