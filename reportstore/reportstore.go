// Package reportstore keeps the reports of operations leaving a driver in a SQL database.
//
// Postgres is supported through github.com/lib/pq, registered as the "postgres" driver. Any
// database/sql driver accepting $n placeholders works.
package reportstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"

	"github.com/smartcontractkit/chainlink-relayer-framework/operations"
	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/logger"
)

// DB is the subset of *sql.DB used by the reporter.
type DB interface {
	Query(q string, args ...any) (*sql.Rows, error)
	Exec(q string, args ...any) (sql.Result, error)
}

// SQLReporter stores reports in a SQL table, see Schema. It is safe for concurrent use when the
// underlying DB is.
type SQLReporter struct {
	db   DB
	lggr logger.Logger
}

// SQLReporter implements operations.Reporter interface.
var _ operations.Reporter = &SQLReporter{}

// New returns a SQLReporter over db. The table must exist, see CreateSchema.
func New(db DB, lggr logger.Logger) *SQLReporter {
	return &SQLReporter{db: db, lggr: logger.Named(lggr, "SQLReporter")}
}

// Open opens the database and returns a SQLReporter over it, with the *sql.DB so the caller can
// close it.
func Open(driverName, dsn string, lggr logger.Logger) (*SQLReporter, *sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s report database: %w", driverName, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to reach %s report database: %w", driverName, err)
	}

	return New(db, lggr), db, nil
}

// CreateSchema creates the reports table.
func (r *SQLReporter) CreateSchema() error {
	if _, err := r.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create reports schema: %w", err)
	}

	return nil
}

// AddReport inserts a report.
func (r *SQLReporter) AddReport(report operations.Report) error {
	status, err := report.Status.Encode()
	if err != nil {
		return fmt.Errorf("report %s: %w", report.ID, err)
	}

	_, err = r.db.Exec(insertReport,
		report.ID,
		report.OperationID.Hex(),
		int64(report.Origin),
		report.Destination,
		report.AppContext,
		string(status),
		string(report.Disposition),
		report.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert report %s: %w", report.ID, err)
	}
	r.lggr.Debugw("Stored operation report", "id", report.ID, "operation", report.OperationID.Hex(),
		"disposition", report.Disposition)

	return nil
}

// GetReports returns all reports in the order they were added.
func (r *SQLReporter) GetReports() ([]operations.Report, error) {
	rows, err := r.db.Query(selectReports)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []operations.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	return reports, rows.Err()
}

// GetOperationReport returns the latest report of an operation.
// Returns operations.ErrReportNotFound if the operation has no report.
func (r *SQLReporter) GetOperationReport(operationID common.Hash) (operations.Report, error) {
	rows, err := r.db.Query(selectOperationReport, operationID.Hex())
	if err != nil {
		return operations.Report{}, fmt.Errorf("failed to query report of %s: %w", operationID.Hex(), err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return operations.Report{}, err
		}

		return operations.Report{}, fmt.Errorf("operation %s: %w", operationID.Hex(), operations.ErrReportNotFound)
	}

	return scanReport(rows)
}

func scanReport(rows *sql.Rows) (operations.Report, error) {
	var (
		report      operations.Report
		operationID string
		origin      int64
		appContext  sql.NullString
		status      string
		disposition string
		createdAt   string
	)
	if err := rows.Scan(&report.ID, &operationID, &origin, &report.Destination, &appContext, &status,
		&disposition, &createdAt); err != nil {
		return operations.Report{}, fmt.Errorf("failed to scan report: %w", err)
	}

	decoded, err := operations.DecodeStatus([]byte(status))
	if err != nil {
		return operations.Report{}, fmt.Errorf("report %s: %w", report.ID, err)
	}
	timestamp, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return operations.Report{}, fmt.Errorf("report %s: invalid timestamp: %w", report.ID, err)
	}
	if origin < 0 || origin > int64(^uint32(0)) {
		return operations.Report{}, errors.New("report origin does not fit in a domain id")
	}

	report.OperationID = common.HexToHash(operationID)
	report.Origin = uint32(origin)
	report.AppContext = appContext.String
	report.Status = decoded
	report.Disposition = operations.Disposition(disposition)
	report.Timestamp = timestamp

	return report, nil
}
