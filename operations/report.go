package operations

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Disposition is how an operation left the driver.
type Disposition string

const (
	// DispositionDelivered is used for operations confirmed on their destination chain.
	DispositionDelivered Disposition = "delivered"
	// DispositionDropped is used for operations that were abandoned.
	DispositionDropped Disposition = "dropped"
)

// Report records an operation leaving the driver.
type Report struct {
	ID          string      `json:"id"`
	OperationID common.Hash `json:"operationId"`
	Origin      uint32      `json:"origin"`
	Destination string      `json:"destination"`
	AppContext  string      `json:"appContext"`
	// Status is the last status of the operation before it left.
	Status      Status      `json:"status"`
	Disposition Disposition `json:"disposition"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NewReport creates a report for op.
func NewReport(op Operation, disposition Disposition) Report {
	destination, appContext := Labels(op)

	return Report{
		ID:          uuid.New().String(),
		OperationID: op.ID(),
		Origin:      op.OriginDomainID(),
		Destination: destination,
		AppContext:  appContext,
		Status:      op.Status(),
		Disposition: disposition,
		Timestamp:   time.Now(),
	}
}

var ErrReportNotFound = errors.New("report not found")

// Reporter keeps the reports of operations that left the driver. It can store them in memory,
// in a database, etc.
type Reporter interface {
	AddReport(report Report) error
	GetReports() ([]Report, error)
	GetOperationReport(operationID common.Hash) (Report, error)
}

// MemoryReporter stores reports in memory.
// This is thread-safe and can be used in a multi-threaded environment.
type MemoryReporter struct {
	reports []Report
	mu      sync.RWMutex
}

// MemoryReporter implements Reporter interface.
var _ Reporter = &MemoryReporter{}

// NewMemoryReporter creates a new MemoryReporter.
func NewMemoryReporter() *MemoryReporter {
	return &MemoryReporter{}
}

// AddReport adds a report to the memory reporter.
func (e *MemoryReporter) AddReport(report Report) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reports = append(e.reports, report)

	return nil
}

// GetReports returns a copy of all reports in the order they were added.
func (e *MemoryReporter) GetReports() ([]Report, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return slices.Clone(e.reports), nil
}

// GetOperationReport returns the latest report of an operation.
// Returns ErrReportNotFound if the operation has no report.
func (e *MemoryReporter) GetOperationReport(operationID common.Hash) (Report, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for i := len(e.reports) - 1; i >= 0; i-- {
		if e.reports[i].OperationID == operationID {
			return e.reports[i], nil
		}
	}

	return Report{}, fmt.Errorf("operation %s: %w", operationID.Hex(), ErrReportNotFound)
}
