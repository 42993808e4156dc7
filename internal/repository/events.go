package repository

import (
	"encoding/json"
	"fmt"

	"tally/internal/model"
)

const (
	TopicLedgerEntries = "ledger.entries"
	TopicSpendCommands = "commands.spend"
)

// PublishEntry encodes e and publishes it on the journal topic.
func PublishEntry(bus MessageBus, e model.LedgerEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}
	return bus.Publish(TopicLedgerEntries, data)
}

func DecodeEntry(data []byte) (model.LedgerEntry, error) {
	var e model.LedgerEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return model.LedgerEntry{}, fmt.Errorf("unmarshal ledger entry: %w", err)
	}
	if e.ID == "" || e.UserID == "" {
		return model.LedgerEntry{}, fmt.Errorf("ledger entry missing id or user")
	}
	return e, nil
}
