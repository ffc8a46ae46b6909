package model

// DecodeError records a decode failure for a program log line.
type DecodeError struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	LogIndex  int    `json:"log_index"`
	Error     string `json:"error"`
}
