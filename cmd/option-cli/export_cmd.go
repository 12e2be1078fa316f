package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"optionchain/core/types"
	"optionchain/integrations/exports"
	"optionchain/integrations/webhooks"
)

func runExportCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, exportUsage())
		return 1
	}

	switch args[0] {
	case "settlement":
		return runExportSettlement(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown export subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, exportUsage())
		return 1
	}
}

func runExportSettlement(args []string, stdout, stderr io.Writer) int {
	fs := newExportFlagSet("export settlement", stderr)
	var (
		afterSeq     uint64
		outDir       string
		formats      string
		prefix       string
		notifyURL    string
		notifySecret string
	)
	fs.Uint64Var(&afterSeq, "after-seq", 0, "only export events after this sequence")
	fs.StringVar(&outDir, "out", ".", "output directory for export files")
	fs.StringVar(&formats, "formats", "csv,jsonl", "comma separated formats: csv, jsonl, parquet")
	fs.StringVar(&prefix, "prefix", "settlement", "output file name prefix")
	fs.StringVar(&notifyURL, "notify", "", "optional webhook endpoint notified once the export is written")
	fs.StringVar(&notifySecret, "notify-secret", "", "shared secret signing the webhook payload")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	wanted := map[string]bool{}
	for _, format := range strings.Split(formats, ",") {
		format = strings.ToLower(strings.TrimSpace(format))
		if format == "" {
			continue
		}
		switch format {
		case "csv", "jsonl", "parquet":
			wanted[format] = true
		default:
			return printCmdError(stderr, fmt.Sprintf("unsupported format %q", format))
		}
	}
	if len(wanted) == 0 {
		return printCmdError(stderr, "--formats must name at least one of csv, jsonl, parquet")
	}
	if strings.TrimSpace(notifyURL) != "" && strings.TrimSpace(notifySecret) == "" {
		return printCmdError(stderr, "--notify-secret is required with --notify")
	}

	params := map[string]interface{}{}
	if afterSeq > 0 {
		params["afterSeq"] = afterSeq
	}
	result, rpcErr, err := callOptionRPC("options_events", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}

	var feed []struct {
		Seq        uint64            `json:"seq"`
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
	}
	if err := json.Unmarshal(result, &feed); err != nil {
		return printCmdError(stderr, "unexpected events payload: "+err.Error())
	}

	now := time.Now().UTC()
	records := make([]*exports.SettlementRecord, 0, len(feed))
	var fromSeq, toSeq uint64
	for _, entry := range feed {
		record, ok := exports.RecordFromEvent(entry.Seq, &types.Event{Type: entry.Type, Attributes: entry.Attributes}, now)
		if !ok {
			continue
		}
		if len(records) == 0 || entry.Seq < fromSeq {
			fromSeq = entry.Seq
		}
		if entry.Seq > toSeq {
			toSeq = entry.Seq
		}
		records = append(records, record)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return printCmdError(stderr, "create output directory: "+err.Error())
	}

	written := make([]string, 0, 3)
	checksum := ""
	if wanted["csv"] {
		data, sum, err := exports.SettlementCSV(records)
		if err != nil {
			return printCmdError(stderr, "csv export: "+err.Error())
		}
		path := filepath.Join(outDir, prefix+".csv")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return printCmdError(stderr, "write csv: "+err.Error())
		}
		fmt.Fprintf(stdout, "wrote %s (%d records, sha256 %s)\n", path, len(records), sum)
		written = append(written, path)
		checksum = sum
	}
	if wanted["jsonl"] {
		data, sum, err := exports.SettlementJSONL(records)
		if err != nil {
			return printCmdError(stderr, "jsonl export: "+err.Error())
		}
		path := filepath.Join(outDir, prefix+".jsonl")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return printCmdError(stderr, "write jsonl: "+err.Error())
		}
		fmt.Fprintf(stdout, "wrote %s (%d records, sha256 %s)\n", path, len(records), sum)
		written = append(written, path)
		if checksum == "" {
			checksum = sum
		}
	}
	if wanted["parquet"] {
		path := filepath.Join(outDir, prefix+".parquet")
		if err := exports.SettlementParquet(path, records); err != nil {
			return printCmdError(stderr, "parquet export: "+err.Error())
		}
		fmt.Fprintf(stdout, "wrote %s (%d records)\n", path, len(records))
		written = append(written, path)
	}

	if strings.TrimSpace(notifyURL) != "" {
		dispatcher, err := webhooks.NewDispatcher(notifyURL, []byte(notifySecret))
		if err != nil {
			return printCmdError(stderr, err.Error())
		}
		defer dispatcher.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		payload := webhooks.ExportReadyPayload{
			FromSequence: fromSeq,
			ToSequence:   toSeq,
			Count:        len(records),
			ExportPaths:  written,
			Checksum:     checksum,
			GeneratedAt:  now,
		}
		if err := dispatcher.DeliverExportReady(ctx, payload); err != nil {
			return printCmdError(stderr, "webhook delivery failed: "+err.Error())
		}
		fmt.Fprintf(stdout, "notified %s\n", notifyURL)
	}
	return 0
}

func newExportFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, exportUsage())
	}
	return fs
}

func exportUsage() string {
	return strings.TrimSpace(`Usage:
  option-cli export <command> [flags]

Commands:
  settlement  Export the settlement ledger derived from buffered module events

Flags for settlement:
  --after-seq N        Only export events after sequence N
  --out DIR            Output directory (default .)
  --formats LIST       csv, jsonl, parquet (default csv,jsonl)
  --prefix NAME        File name prefix (default settlement)
  --notify URL         Webhook endpoint to notify once files are written
  --notify-secret S    Shared secret signing the webhook payload
`)
}
