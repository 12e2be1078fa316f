package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// SettlementJSONL builds a JSON Lines export for the supplied settlement
// records and returns the serialised payload alongside a checksum.
func SettlementJSONL(records []*SettlementRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, record := range records {
		if record == nil {
			continue
		}
		occurred := record.OccurredAt
		if occurred.IsZero() {
			occurred = time.Now().UTC()
		}
		payload := map[string]interface{}{
			"sequence":     record.Sequence,
			"escrow_id":    record.EscrowID,
			"escrow_index": record.Index,
			"kind":         record.Kind,
			"owner":        record.Owner,
			"party":        record.Party,
			"receiver":     record.Receiver,
			"token":        record.Token,
			"amount":       record.Amount,
			"cost":         record.Cost,
			"fee":          record.Fee,
			"partner_fee":  record.PartnerFee,
			"cashless":     record.Cashless,
			"occurred_at":  occurred.UTC().Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
