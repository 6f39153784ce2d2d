package flightlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
)

// DefaultTable is the GreptimeDB table flight log entries land in.
const DefaultTable = "drone_flight_log"

const defaultGreptimePort = 4001

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes entries to GreptimeDB over gRPC.
type GreptimeDBWriter struct {
	client    greptimeClient
	clusterID string
	table     string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewGreptimeDBWriter connects to endpoint (host or host:port).
func NewGreptimeDBWriter(endpoint, database, tableName, clusterID string, logger *slog.Logger) (*GreptimeDBWriter, error) {
	host, port := endpoint, defaultGreptimePort
	if h, p, err := net.SplitHostPort(endpoint); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("greptimedb endpoint %q: %w", endpoint, err)
		}
		host, port = h, n
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptimedb client: %w", err)
	}
	return newGreptimeDBWriter(client, tableName, clusterID, logger), nil
}

func newGreptimeDBWriter(client greptimeClient, tableName, clusterID string, logger *slog.Logger) *GreptimeDBWriter {
	if tableName == "" {
		tableName = DefaultTable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GreptimeDBWriter{client: client, clusterID: clusterID, table: tableName, timeout: 5 * time.Second, logger: logger}
}

func (w *GreptimeDBWriter) AppendLog(e Entry) error {
	return w.AppendLogs([]Entry{e})
}

// AppendLogs writes all entries in one request.
func (w *GreptimeDBWriter) AppendLogs(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tbl, err := w.buildTable(entries)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		w.logger.Error("greptimedb write failed", "table", w.table, "rows", len(entries), "err", err)
		return err
	}
	w.logger.Debug("greptimedb write", "table", w.table, "rows", len(entries))
	return nil
}

func (w *GreptimeDBWriter) buildTable(entries []Entry) (*table.Table, error) {
	tbl, err := table.New(w.table)
	if err != nil {
		return nil, err
	}
	for _, tag := range []string{"cluster_id", "drone_id"} {
		if err := tbl.AddTagColumn(tag, types.STRING); err != nil {
			return nil, err
		}
	}
	for _, col := range []struct {
		name string
		typ  types.ColumnType
	}{
		{"entry_id", types.STRING},
		{"lat", types.FLOAT64},
		{"lon", types.FLOAT64},
		{"alt", types.FLOAT64},
		{"status", types.STRING},
		{"event", types.STRING},
		{"details", types.STRING},
	} {
		if err := tbl.AddFieldColumn(col.name, col.typ); err != nil {
			return nil, err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return nil, err
	}
	for _, e := range entries {
		details := ""
		if len(e.Details) > 0 {
			b, err := json.Marshal(e.Details)
			if err != nil {
				return nil, err
			}
			details = string(b)
		}
		if err := tbl.AddRow(w.clusterID, e.DroneID, e.ID, e.Position.Lat, e.Position.Lon, e.Position.Alt,
			string(e.Status), e.Event, details, e.Timestamp); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}
