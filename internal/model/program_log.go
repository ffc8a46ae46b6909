package model

import (
	"encoding/json"
)

// ProgramLog is one confirmed transaction's log lines for the watched program.
type ProgramLog struct {
	Signature  string   `json:"signature"`
	Slot       uint64   `json:"slot"`
	BlockTime  int64    `json:"block_time"`
	Logs       []string `json:"logs"`
	Failed     bool     `json:"failed"`
	IngestedAt string   `json:"ingested_at"`
}

// MarshalJSON ensures ProgramLog is encoded with stable field names.
func (pl ProgramLog) MarshalJSON() ([]byte, error) {
	type Alias ProgramLog
	return json.Marshal(Alias(pl))
}

// UnmarshalJSON decodes a ProgramLog from JSON.
func (pl *ProgramLog) UnmarshalJSON(data []byte) error {
	type Alias ProgramLog
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Logs == nil {
		a.Logs = []string{}
	}
	*pl = ProgramLog(a)
	return nil
}
