// Package engine 实现确定性的回测撮合核心: 持仓生命周期、DCA 加仓、
// 止盈止损与保证金强平。同一输入与配置必须产生完全一致的输出，
// 引擎内部不读取时钟、不产生随机性。
package engine

import (
	"fmt"

	"stratlab/internal/market"
	"stratlab/internal/signal"
)

// Tick 是一次执行周期的输入。History 携带分析周期的历史 K 线，
// 最后一项为当前分析 K 线; 双周期模式下仅包含已收盘的慢周期 K 线。
type Tick struct {
	Row            market.Candle
	History        []market.Candle
	NewStrategyBar bool
}

// trailingAnchor 是移动止盈/止损的锚点; 未激活时 armed 为 false，
// 避免用哨兵价格表达"尚未计算"。
type trailingAnchor struct {
	armed bool
	price float64
}

// Engine 驱动 {Flat, Open} 两态的策略状态机。
// 单个实例独占其账户与持仓状态，并发回测需各自实例化。
type Engine struct {
	cfg     Config
	account *Account
	entry   signal.Evaluator

	position *Position
	closed   []*Position
	trades   []Trade

	orderSeq     int64
	trailTP      trailingAnchor
	trailSL      trailingAnchor
	entriesOnBar int
	warnActive   bool
}

// New 归一化并校验配置，构造入场评估器。配置错误在此处失败，
// tick 循环内不再出现。
func New(cfg Config) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	eval, err := signal.New(signal.Spec{
		Type:     cfg.Entry.Type,
		Side:     string(cfg.Side),
		Trigger:  cfg.Entry.Trigger,
		Percent:  cfg.Entry.Percent,
		Lookback: cfg.Entry.Lookback,
		Params:   cfg.Entry.Indicator,
	})
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		account: NewAccount(cfg.StartBalance, cfg.Leverage, cfg.CommissionRate),
		entry:   eval,
	}, nil
}

// Config 返回归一化后的生效配置。
func (e *Engine) Config() Config { return e.cfg }

// Account 返回引擎独占的账户状态。
func (e *Engine) Account() *Account { return e.account }

// OpenPosition 返回当前持仓，无持仓时为 nil。
func (e *Engine) OpenPosition() *Position { return e.position }

// Trades 返回按平仓顺序排列的成交记录。
func (e *Engine) Trades() []Trade { return e.trades }

// ProcessTick 按固定优先级处理一个 tick: 入场、加仓、盘中出场、
// 常规出场、保证金检查。任一平仓动作立即终止本 tick。
func (e *Engine) ProcessTick(t Tick) []Action {
	var actions []Action
	price := t.Row.Close
	ts := t.Row.OpenTime

	if t.NewStrategyBar {
		e.entriesOnBar = 0
	}

	if e.position == nil {
		if e.canEnter(t) && e.entry.ShouldEnter(t.History[len(t.History)-1], t.History) {
			if act, ok := e.openAt(price, ts); ok {
				actions = append(actions, act)
				e.entriesOnBar++
			}
		}
	} else if level, ok := e.shouldAddOn(price, t.History); ok {
		if act, filled := e.addOnAt(price, ts, level); filled {
			actions = append(actions, act)
		}
	}

	if e.position != nil {
		if reason, exitPrice, hit := e.intrabarExit(t.Row); hit {
			trade := e.closePosition(exitPrice, ts, reason)
			actions = append(actions, closeAction(ActionClosePosition, ts, exitPrice, trade))
			return actions
		}
	}

	if e.position != nil {
		if reason, hit := e.shouldClose(price); hit {
			trade := e.closePosition(price, ts, reason)
			actions = append(actions, closeAction(ActionClosePosition, ts, price, trade))
			return actions
		}
	}

	if e.position != nil {
		act, closed := e.checkMargin(price, ts)
		if act != nil {
			actions = append(actions, *act)
		}
		if closed {
			return actions
		}
	}

	return actions
}

// CloseOpenPosition 以给定价格强制平掉当前持仓，常用于数据耗尽。
// 无持仓时返回 false。
func (e *Engine) CloseOpenPosition(price float64, ts int64, reason CloseReason) (Trade, bool) {
	if e.position == nil {
		return Trade{}, false
	}
	return e.closePosition(price, ts, reason), true
}

// canEnter 门控入场时机: 必须有分析历史，且本分析 K 线的入场次数
// 未用尽; 单 K 线重复入场默认关闭，仅在显式调大上限后生效。
func (e *Engine) canEnter(t Tick) bool {
	if len(t.History) == 0 {
		return false
	}
	if e.entriesOnBar >= e.cfg.Entry.MaxEntriesPerBar {
		return false
	}
	return t.NewStrategyBar || e.cfg.Entry.MaxEntriesPerBar > 1
}

func (e *Engine) openAt(price float64, ts int64) (Action, bool) {
	qty := e.orderQuantity(price, false, 0)
	order := e.newOrder(ts, price, qty, false, 0)
	if !e.execute(order) {
		return Action{}, false
	}
	return Action{
		Type:      ActionOpenPosition,
		Timestamp: ts,
		OrderID:   order.ID,
		Price:     price,
		Quantity:  order.Quantity,
	}, true
}

func (e *Engine) addOnAt(price float64, ts int64, level int) (Action, bool) {
	qty := e.orderQuantity(price, true, level)
	order := e.newOrder(ts, price, qty, true, level)
	if !e.execute(order) {
		return Action{}, false
	}
	return Action{
		Type:      ActionDCAOrder,
		Timestamp: ts,
		OrderID:   order.ID,
		Price:     price,
		Quantity:  order.Quantity,
		Level:     level,
	}, true
}

func (e *Engine) newOrder(ts int64, price, qty float64, addOn bool, level int) Order {
	e.orderSeq++
	return Order{
		ID:        e.orderSeq,
		Timestamp: ts,
		Side:      e.cfg.Side,
		Price:     price,
		Quantity:  qty,
		Status:    OrderPending,
		AddOn:     addOn,
		Level:     level,
	}
}

// execute 成交一笔订单: 扣除保证金与手续费，建仓或并入现有持仓。
// 数量为零或余额不足时静默拒单，状态不变。
func (e *Engine) execute(order Order) bool {
	if order.Quantity <= 0 {
		return false
	}
	total := order.Margin(float64(e.account.Leverage)) + order.Commission(e.account.CommissionRate)
	if total > e.account.Balance {
		return false
	}
	e.account.Balance -= total
	order.Status = OrderFilled

	if e.position == nil {
		e.position = &Position{
			Symbol:     e.cfg.Symbol,
			Side:       e.cfg.Side,
			EntryPrice: order.Price,
			Quantity:   order.Quantity,
			Orders:     []Order{order},
		}
	} else {
		e.position.Orders = append(e.position.Orders, order)
		e.position.Quantity += order.Quantity
	}
	return true
}

// shouldAddOn 判定是否触发 DCA 加仓，返回下一笔加仓的层级。
// 步长从均价起算，层级从已成交加仓数推进。
func (e *Engine) shouldAddOn(price float64, history []market.Candle) (int, bool) {
	if !e.cfg.DCA.Enabled || e.position == nil {
		return 0, false
	}
	filled := e.position.FilledAddOns()
	if filled >= e.cfg.DCA.MaxOrders {
		return 0, false
	}
	avg := e.position.AveragePrice()
	if avg <= 0 {
		return 0, false
	}

	step := e.dynamicStep(filled, history)
	var adverse float64
	if e.position.Side == SideLong {
		adverse = (avg - price) / avg
	} else {
		adverse = (price - avg) / avg
	}
	if adverse >= step {
		return filled + 1, true
	}
	return 0, false
}

// intrabarExit 用本 K 线的高低点判定 TP/SL 是否在盘中触发。
// 有利极值优先: 同一根 K 线同时覆盖两个阈值时按 TP 结算。
// OHLC 无法还原盘中触达顺序，这是既定近似而非待修复问题。
func (e *Engine) intrabarExit(row market.Candle) (CloseReason, float64, bool) {
	pos := e.position
	avg := pos.AveragePrice()
	if avg <= 0 {
		return "", 0, false
	}

	favorable, adverse := row.High, row.Low
	if pos.Side == SideShort {
		favorable, adverse = row.Low, row.High
	}

	if e.cfg.TakeProfit.On() {
		target := profitTarget(pos.Side, avg, e.cfg.TakeProfit.Percent/100)
		if profitTargetHit(pos.Side, favorable, target) {
			return CloseTakeProfit, target, true
		}
	}
	if e.cfg.StopLoss.On() {
		target := lossTarget(pos.Side, avg, e.cfg.StopLoss.Percent/100)
		if lossTargetHit(pos.Side, adverse, target) {
			return CloseStopLoss, target, true
		}
	}
	return "", 0, false
}

// shouldClose 按固定顺序检查收盘价出场条件:
// 回撤熔断、移动止盈、移动止损、普通止盈、普通止损。
func (e *Engine) shouldClose(price float64) (CloseReason, bool) {
	pos := e.position
	avg := pos.AveragePrice()
	if avg <= 0 {
		return "", false
	}

	e.account.UpdatePeak()

	// 浮亏占持仓成本的比例超过回撤上限时无条件离场
	if unrealized := pos.UnrealizedPnL(price); unrealized < 0 {
		if cost := pos.CostBasis(); cost > 0 && -unrealized/cost >= e.cfg.Risk.MaxDrawdownPercent/100 {
			return CloseMaxDrawdown, true
		}
	}

	var profitFrac, lossFrac float64
	if pos.Side == SideLong {
		profitFrac = (price - avg) / avg
		lossFrac = (avg - price) / avg
	} else {
		profitFrac = (avg - price) / avg
		lossFrac = (price - avg) / avg
	}

	if e.cfg.TakeProfit.On() && e.cfg.TakeProfit.Trailing.Enabled {
		if hit := e.trailingCheck(&e.trailTP, e.cfg.TakeProfit.Trailing, profitFrac, price); hit {
			return CloseTrailingTakeProfit, true
		}
	}
	if e.cfg.StopLoss.On() && e.cfg.StopLoss.Trailing.Enabled {
		if hit := e.trailingCheck(&e.trailSL, e.cfg.StopLoss.Trailing, profitFrac, price); hit {
			return CloseTrailingStopLoss, true
		}
	}

	if e.cfg.TakeProfit.On() && profitFrac >= e.cfg.TakeProfit.Percent/100 {
		return CloseTakeProfit, true
	}
	if e.cfg.StopLoss.On() && lossFrac >= e.cfg.StopLoss.Percent/100 {
		return CloseStopLoss, true
	}
	return "", false
}

// trailingCheck 在盈利达到激活线后维护锚点并判定触发。
// 锚点只朝有利方向推进; 盈利回落到激活线下方时锚点保留但不触发。
func (e *Engine) trailingCheck(anchor *trailingAnchor, rule TrailingRule, profitFrac, price float64) bool {
	if profitFrac < rule.ActivationPercent/100 {
		return false
	}
	candidate := trailingAnchorFor(e.position.Side, price, rule.TrailPercent/100)
	if !anchor.armed {
		anchor.armed = true
		anchor.price = candidate
	} else if shouldAdvanceAnchor(e.position.Side, candidate, anchor.price) {
		anchor.price = candidate
	}
	return anchorBreached(e.position.Side, price, anchor.price)
}

// checkMargin 先看强平价是否被穿越，再看保证金率。
// 率先触达警告阈值只发出告警动作，仅强平阈值导致平仓。
func (e *Engine) checkMargin(price float64, ts int64) (*Action, bool) {
	pos := e.position

	if liq := e.account.LiquidationPrice(pos); lossTargetHit(pos.Side, price, liq) {
		trade := e.closePosition(price, ts, CloseLiquidationPrice)
		act := closeAction(ActionMarginCall, ts, price, trade)
		return &act, true
	}

	ratio := e.account.MarginRatio(pos, price)
	if ratio <= e.cfg.Margin.LiquidationRatio {
		trade := e.closePosition(price, ts, CloseMarginCall)
		act := closeAction(ActionMarginCall, ts, price, trade)
		return &act, true
	}
	if ratio <= e.cfg.Margin.WarningRatio {
		if e.warnActive {
			return nil, false
		}
		e.warnActive = true
		act := Action{Type: ActionMarginWarning, Timestamp: ts, Price: price}
		return &act, false
	}
	e.warnActive = false
	return nil, false
}

// closePosition 平仓结算: 归还全部保证金、按方向实现盈亏、
// 扣除平仓手续费，成交记录的 PnL 为扣除开平手续费后的净值。
func (e *Engine) closePosition(price float64, ts int64, reason CloseReason) Trade {
	pos := e.position
	avg := pos.AveragePrice()
	pnl := pos.UnrealizedPnL(price)

	closeCommission := price * pos.Quantity * e.account.CommissionRate
	e.account.Balance += pos.MarginUsed(float64(e.account.Leverage)) + pnl - closeCommission

	net := pnl - closeCommission - pos.OpenCommission(e.account.CommissionRate)
	var pnlPercent float64
	if denom := avg * pos.Quantity; denom > 0 {
		pnlPercent = net / denom * 100
	}

	entryTime := ts
	if len(pos.Orders) > 0 {
		entryTime = pos.Orders[0].Timestamp
	}

	trade := Trade{
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		EntryPrice:   pos.EntryPrice,
		AveragePrice: avg,
		ExitPrice:    price,
		Quantity:     pos.Quantity,
		PnL:          net,
		PnLPercent:   pnlPercent,
		EntryTime:    entryTime,
		ExitTime:     ts,
		Reason:       reason,
		AddOnCount:   pos.TotalAddOns(),
		TotalOrders:  len(pos.Orders),
	}
	e.trades = append(e.trades, trade)

	e.trailTP = trailingAnchor{}
	e.trailSL = trailingAnchor{}
	e.warnActive = false
	e.closed = append(e.closed, pos)
	e.position = nil
	return trade
}

func closeAction(typ ActionType, ts int64, price float64, trade Trade) Action {
	return Action{
		Type:      typ,
		Timestamp: ts,
		Price:     price,
		Quantity:  trade.Quantity,
		Reason:    trade.Reason,
		Trade:     &trade,
	}
}
