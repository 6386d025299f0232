package engine

import (
	"fmt"
	"strings"
)

// Side 表示持仓方向。
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide 解析方向配置，未知值视为配置错误。
func ParseSide(input string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", string(SideLong):
		return SideLong, nil
	case string(SideShort):
		return SideShort, nil
	default:
		return "", fmt.Errorf("未知方向: %s", input)
	}
}

// OrderStatus 表示订单状态。
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// Order 是引擎在成交决策时创建的订单记录；除状态外不可变。
type Order struct {
	ID        int64       `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Side      Side        `json:"side"`
	Price     float64     `json:"price"`
	Quantity  float64     `json:"quantity"`
	Status    OrderStatus `json:"status"`
	AddOn     bool        `json:"add_on"`
	Level     int         `json:"level"`
}

// Margin 返回该订单占用的保证金。
func (o Order) Margin(leverage float64) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	return o.Price * o.Quantity / leverage
}

// Commission 返回按全仓价值计的手续费。
func (o Order) Commission(rate float64) float64 {
	return o.Price * o.Quantity * rate
}
