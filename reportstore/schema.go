package reportstore

// Schema creates the table of operation reports. It is applied by CreateSchema and can be run by
// database migrations instead.
const Schema = `
	CREATE TABLE operation_reports (
		seq            BIGSERIAL PRIMARY KEY,
		id             varchar(255) not null,
		operation_id   varchar(255) not null,
		origin         bigint not null,
		destination    varchar(255) not null,
		app_context    text,
		status         text not null,
		disposition    varchar(255) not null,
		created_at     varchar(255) not null
	);`

const (
	insertReport = `INSERT INTO operation_reports
		(id, operation_id, origin, destination, app_context, status, disposition, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	selectReports = `SELECT id, operation_id, origin, destination, app_context, status, disposition, created_at
		FROM operation_reports ORDER BY seq ASC`

	selectOperationReport = `SELECT id, operation_id, origin, destination, app_context, status, disposition, created_at
		FROM operation_reports WHERE operation_id = $1 ORDER BY seq DESC LIMIT 1`
)
