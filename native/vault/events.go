package vault

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// Event types emitted by the vault engine.
const (
	EventTypeDeposit    = "vault.deposit"
	EventTypeWithdrawal = "vault.withdrawal"
	EventTypePaused     = "vault.paused"
	EventTypeUnpaused   = "vault.unpaused"
)

// Event is a structured observability record. Events carry no correctness
// weight; the ledger's persisted records are authoritative.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter receives events produced by the engine.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter drops every event.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}

// NewDepositEvent builds the canonical payload for a normalised deposit.
func NewDepositEvent(record *DepositRecord) Event {
	attrs := map[string]string{}
	if record != nil {
		attrs["id"] = record.ID
		attrs["depositor"] = record.Depositor.Hex()
		attrs["asset"] = record.Asset.Hex()
		attrs["class"] = string(record.Class)
		attrs["amountIn"] = bigString(record.AmountIn)
		attrs["credited"] = bigString(record.Credited)
		attrs["createdAt"] = strconv.FormatInt(record.CreatedAt, 10)
	}
	return Event{Type: EventTypeDeposit, Attributes: attrs}
}

// NewWithdrawalEvent builds the canonical payload for a settled withdrawal.
func NewWithdrawalEvent(record *WithdrawalRecord) Event {
	attrs := map[string]string{}
	if record != nil {
		attrs["id"] = record.ID
		attrs["depositor"] = record.Depositor.Hex()
		attrs["amount"] = bigString(record.Amount)
		attrs["createdAt"] = strconv.FormatInt(record.CreatedAt, 10)
	}
	return Event{Type: EventTypeWithdrawal, Attributes: attrs}
}

// NewPauseEvent builds the payload emitted when the admin toggles the gate.
func NewPauseEvent(paused bool, caller common.Address) Event {
	eventType := EventTypeUnpaused
	if paused {
		eventType = EventTypePaused
	}
	return Event{Type: eventType, Attributes: map[string]string{"caller": caller.Hex()}}
}
