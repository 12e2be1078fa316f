package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"
)

// SettlementCSV builds a CSV export for the supplied settlement records and
// returns the serialised data alongside a SHA-256 checksum of the payload.
func SettlementCSV(records []*SettlementRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{
		"sequence", "escrow_id", "escrow_index", "kind", "owner", "party", "receiver",
		"token", "amount", "cost", "fee", "partner_fee", "cashless", "occurred_at",
	}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, record := range records {
		if record == nil {
			continue
		}
		occurred := record.OccurredAt
		if occurred.IsZero() {
			occurred = time.Now().UTC()
		}
		row := []string{
			strconv.FormatUint(record.Sequence, 10),
			record.EscrowID,
			strconv.FormatUint(record.Index, 10),
			record.Kind,
			record.Owner,
			record.Party,
			record.Receiver,
			record.Token,
			record.Amount,
			record.Cost,
			record.Fee,
			record.PartnerFee,
			strconv.FormatBool(record.Cashless),
			occurred.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
