package models

type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

type OrderState string

const (
	OrderOpen        OrderState = "open"
	OrderFilled      OrderState = "filled"
	OrderCancelled   OrderState = "cancelled"
	OrderRejected    OrderState = "rejected"
	OrderClosed      OrderState = "closed"
	OrderUntriggered OrderState = "untriggered"
)

type OrderRequest struct {
	Instrument string
	Direction  Direction
	Amount     float64
	Price      float64
	Label      string
	ReduceOnly bool
}

type Order struct {
	ID           string
	Instrument   string
	Direction    Direction
	Amount       float64
	Price        float64
	State        OrderState
	FilledAmount float64
	AveragePrice float64
	Label        string
}

func (o Order) Remaining() float64 {
	r := o.Amount - o.FilledAmount
	if r < 0 {
		return 0
	}
	return r
}

// ExecutionStrategy — как был исполнен ордер.
type ExecutionStrategy string

const (
	StrategyDirect      ExecutionStrategy = "direct"
	StrategyProgressive ExecutionStrategy = "progressive"
)

// Execution — итог работы исполнителя.
type Execution struct {
	Strategy         ExecutionStrategy
	OrderID          string
	Instrument       string
	Direction        Direction
	Quantity         float64
	Price            float64 // последняя лимитная цена
	FinalState       OrderState
	ExecutedQuantity float64
	AveragePrice     float64
	Attempts         int
	Success          bool
	OpenOrders       int
	PositionSize     float64
}
