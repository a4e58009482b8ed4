package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportFormat selects the serialization for entry exports.
type ExportFormat string

const (
	FormatJSON   ExportFormat = "json"
	FormatNDJSON ExportFormat = "ndjson"
	FormatCSV    ExportFormat = "csv"
)

// ParseExportFormat validates a format name.
func ParseExportFormat(name string) (ExportFormat, error) {
	switch ExportFormat(name) {
	case FormatJSON, FormatNDJSON, FormatCSV:
		return ExportFormat(name), nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown export format %q", name)
	}
}

// Export writes entries to w in the given format.
func Export(w io.Writer, entries []*LogEntry, format ExportFormat) error {
	switch format {
	case FormatJSON:
		return exportJSON(w, entries)
	case FormatNDJSON:
		return exportNDJSON(w, entries)
	case FormatCSV:
		return exportCSV(w, entries)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func exportJSON(w io.Writer, entries []*LogEntry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if entries == nil {
		entries = []*LogEntry{}
	}
	return enc.Encode(entries)
}

func exportNDJSON(w io.Writer, entries []*LogEntry) error {
	enc := json.NewEncoder(w)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}

var csvHeader = []string{
	"id", "entity_type", "object_id", "object_pk", "object_repr", "action",
	"actor", "actor_email", "remote_addr", "remote_port", "cid", "timestamp", "changes",
}

func exportCSV(w io.Writer, entries []*LogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, entry := range entries {
		record, err := csvRecord(entry)
		if err != nil {
			return err
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRecord(entry *LogEntry) ([]string, error) {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	objectID := ""
	if entry.ObjectID != nil {
		objectID = strconv.FormatInt(*entry.ObjectID, 10)
	}
	remotePort := ""
	if entry.RemotePort != nil {
		remotePort = strconv.Itoa(*entry.RemotePort)
	}
	changes := ""
	if entry.Changes != nil {
		encoded, err := json.Marshal(entry.Changes)
		if err != nil {
			return nil, err
		}
		changes = string(encoded)
	}
	return []string{
		strconv.FormatInt(entry.ID, 10),
		entry.EntityType,
		objectID,
		entry.ObjectPK,
		entry.ObjectRepr,
		entry.Action.String(),
		deref(entry.Actor),
		deref(entry.ActorEmail),
		deref(entry.RemoteAddr),
		remotePort,
		entry.CID,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		changes,
	}, nil
}
