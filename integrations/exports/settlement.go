package exports

import (
	"strconv"
	"time"

	"optionchain/core/types"
	"optionchain/native/options"
)

// SettlementRecord is one flattened ledger row describing a funds movement
// produced by the options module. Party is the acting counterparty for the
// leg: the bidder on a match, the quoter on a taken quote, the exerciser,
// borrower or withdrawing caller otherwise. Amount carries the gross leg
// size (premium, burned position tokens or withdrawn balance), Cost the
// counter leg where one exists (exercise cost, borrow collateral, repay
// unlock). Big integers stay as decimal strings so exports never lose
// precision to floats.
type SettlementRecord struct {
	Sequence   uint64
	EscrowID   string
	Index      uint64
	Kind       string
	Owner      string
	Party      string
	Receiver   string
	Token      string
	Amount     string
	Cost       string
	Fee        string
	PartnerFee string
	Cashless   bool
	OccurredAt time.Time
}

// RecordFromEvent flattens a module event into a settlement record. Events
// that move no funds (auction creation, transfers, delegation, pause
// toggles) report false and are skipped by exporters.
func RecordFromEvent(seq uint64, evt *types.Event, at time.Time) (*SettlementRecord, bool) {
	if evt == nil {
		return nil, false
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	record := &SettlementRecord{
		Sequence:   seq,
		EscrowID:   attrs["escrowId"],
		Kind:       evt.Type,
		Owner:      attrs["owner"],
		OccurredAt: at,
	}
	if raw := attrs["index"]; raw != "" {
		if idx, err := strconv.ParseUint(raw, 10, 64); err == nil {
			record.Index = idx
		}
	}
	switch evt.Type {
	case options.EventTypeAuctionMatched:
		record.Party = attrs["bidder"]
		record.Receiver = attrs["receiver"]
		record.Token = attrs["premiumToken"]
		record.Amount = attrs["premium"]
		record.Fee = attrs["protocolFee"]
		record.PartnerFee = attrs["partnerFee"]
	case options.EventTypeQuoteTaken:
		record.Party = attrs["quoter"]
		record.Receiver = attrs["receiver"]
		record.Amount = attrs["premium"]
	case options.EventTypeExercised:
		record.Party = attrs["caller"]
		record.Receiver = attrs["receiver"]
		record.Amount = attrs["amount"]
		record.Cost = attrs["cost"]
		record.Fee = attrs["fee"]
		record.Cashless = attrs["cashless"] == "true"
	case options.EventTypeBorrowed:
		record.Party = attrs["borrower"]
		record.Receiver = attrs["receiver"]
		record.Amount = attrs["amount"]
		record.Cost = attrs["collateral"]
		record.Fee = attrs["fee"]
	case options.EventTypeRepaid:
		record.Party = attrs["borrower"]
		record.Receiver = attrs["receiver"]
		record.Amount = attrs["amount"]
		record.Cost = attrs["unlocked"]
	case options.EventTypeWithdrawn:
		record.Party = attrs["caller"]
		record.Receiver = attrs["to"]
		record.Token = attrs["token"]
		record.Amount = attrs["amount"]
	default:
		return nil, false
	}
	return record, true
}
