package exports

import (
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type settlementParquetRow struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	EscrowID   string `parquet:"name=escrow_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Index      int64  `parquet:"name=escrow_index, type=INT64"`
	Kind       string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Owner      string `parquet:"name=owner, type=BYTE_ARRAY, convertedtype=UTF8"`
	Party      string `parquet:"name=party, type=BYTE_ARRAY, convertedtype=UTF8"`
	Receiver   string `parquet:"name=receiver, type=BYTE_ARRAY, convertedtype=UTF8"`
	Token      string `parquet:"name=token, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Cost       string `parquet:"name=cost, type=BYTE_ARRAY, convertedtype=UTF8"`
	Fee        string `parquet:"name=fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	PartnerFee string `parquet:"name=partner_fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	Cashless   bool   `parquet:"name=cashless, type=BOOLEAN"`
	OccurredAt string `parquet:"name=occurred_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// SettlementParquet writes a snappy-compressed parquet export of the
// supplied settlement records to path.
func SettlementParquet(path string, records []*SettlementRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(settlementParquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, record := range records {
		if record == nil {
			continue
		}
		occurred := record.OccurredAt
		if occurred.IsZero() {
			occurred = time.Now().UTC()
		}
		row := &settlementParquetRow{
			Sequence:   int64(record.Sequence),
			EscrowID:   record.EscrowID,
			Index:      int64(record.Index),
			Kind:       record.Kind,
			Owner:      record.Owner,
			Party:      record.Party,
			Receiver:   record.Receiver,
			Token:      record.Token,
			Amount:     record.Amount,
			Cost:       record.Cost,
			Fee:        record.Fee,
			PartnerFee: record.PartnerFee,
			Cashless:   record.Cashless,
			OccurredAt: occurred.UTC().Format(time.RFC3339Nano),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	return nil
}
