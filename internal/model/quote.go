package model

import "time"

type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Ts     time.Time `json:"ts"`
}

type QuoteErrorResponse struct {
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"retry_after"`
}
