package service

import "encoding/json"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method,omitempty"` // для подписок и heartbeat
	Result  json.RawMessage `json:"result,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type authResult struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"` // секунды
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type instrument struct {
	InstrumentName      string  `json:"instrument_name"`
	Kind                string  `json:"kind"`
	OptionType          string  `json:"option_type"`
	Strike              float64 `json:"strike"`
	ExpirationTimestamp int64   `json:"expiration_timestamp"` // ms
	TickSize            float64 `json:"tick_size"`
	MinTradeAmount      float64 `json:"min_trade_amount"`
	ContractSize        float64 `json:"contract_size"`
	BaseCurrency        string  `json:"base_currency"`
	QuoteCurrency       string  `json:"quote_currency"`
	SettlementCurrency  string  `json:"settlement_currency"`
	IsActive            bool    `json:"is_active"`
}

type greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

type ticker struct {
	InstrumentName  string  `json:"instrument_name"`
	BestBidPrice    float64 `json:"best_bid_price"`
	BestAskPrice    float64 `json:"best_ask_price"`
	MarkPrice       float64 `json:"mark_price"`
	UnderlyingPrice float64 `json:"underlying_price"`
	IndexPrice      float64 `json:"index_price"`
	OpenInterest    float64 `json:"open_interest"`
	Stats           struct {
		Volume float64 `json:"volume"`
	} `json:"stats"`
	Greeks greeks `json:"greeks"`
}

type indexPrice struct {
	IndexPrice             float64 `json:"index_price"`
	EstimatedDeliveryPrice float64 `json:"estimated_delivery_price"`
}

type order struct {
	OrderID        string  `json:"order_id"`
	InstrumentName string  `json:"instrument_name"`
	Direction      string  `json:"direction"`
	Amount         float64 `json:"amount"`
	Price          float64 `json:"price"`
	OrderState     string  `json:"order_state"`
	FilledAmount   float64 `json:"filled_amount"`
	AveragePrice   float64 `json:"average_price"`
	Label          string  `json:"label"`
	ReduceOnly     bool    `json:"reduce_only"`
}

type orderResult struct {
	Order order `json:"order"`
}

type position struct {
	InstrumentName     string  `json:"instrument_name"`
	Kind               string  `json:"kind"`
	Size               float64 `json:"size"`
	Direction          string  `json:"direction"` // buy | sell | zero
	AveragePrice       float64 `json:"average_price"`
	MarkPrice          float64 `json:"mark_price"`
	Delta              float64 `json:"delta"`
	Gamma              float64 `json:"gamma"`
	Theta              float64 `json:"theta"`
	Vega               float64 `json:"vega"`
	FloatingProfitLoss float64 `json:"floating_profit_loss"`
}
