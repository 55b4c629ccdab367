package sqlstore

import "strings"

// schema is rendered per dialect: {{ts}} is the timestamp column type and
// {{uuid}} the id column type.
const schema = `
CREATE TABLE IF NOT EXISTS applications (
    job_id          TEXT PRIMARY KEY,
    status          TEXT NOT NULL,
    submitted_at    {{ts}},
    attempts        INTEGER NOT NULL DEFAULT 0,
    last_error      TEXT NOT NULL DEFAULT '',
    last_attempt_at {{ts}},
    title           TEXT NOT NULL DEFAULT '',
    company         TEXT NOT NULL DEFAULT '',
    created_at      {{ts}} NOT NULL,
    updated_at      {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS applications_status_idx ON applications (status, last_attempt_at);

CREATE TABLE IF NOT EXISTS attempts (
    id           {{uuid}} PRIMARY KEY,
    job_id       TEXT NOT NULL REFERENCES applications (job_id),
    run_id       {{uuid}} NOT NULL,
    triggered_by TEXT NOT NULL,
    outcome      TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    started_at   {{ts}} NOT NULL,
    finished_at  {{ts}}
);

CREATE INDEX IF NOT EXISTS attempts_started_idx ON attempts (started_at);
CREATE INDEX IF NOT EXISTS attempts_job_idx ON attempts (job_id);

CREATE TABLE IF NOT EXISTS dispatch_runs (
    id              {{uuid}} PRIMARY KEY,
    triggered_by    TEXT NOT NULL,
    started_at      {{ts}} NOT NULL,
    finished_at     {{ts}},
    window_target   INTEGER NOT NULL,
    attempted       INTEGER NOT NULL DEFAULT 0,
    succeeded       INTEGER NOT NULL DEFAULT 0,
    failed          INTEGER NOT NULL DEFAULT 0,
    skipped         INTEGER NOT NULL DEFAULT 0,
    cancelled       BOOLEAN NOT NULL DEFAULT FALSE,
    rate_limited    BOOLEAN NOT NULL DEFAULT FALSE,
    quota_exhausted BOOLEAN NOT NULL DEFAULT FALSE
);
`

func (d Dialect) schemaStatements() []string {
	ts, id := "TIMESTAMPTZ", "UUID"
	if d == SQLite {
		ts, id = "TEXT", "TEXT"
	}
	rendered := strings.NewReplacer("{{ts}}", ts, "{{uuid}}", id).Replace(schema)

	var stmts []string
	for _, stmt := range strings.Split(rendered, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

const applicationColumns = `
    job_id, status, submitted_at, attempts, last_error, last_attempt_at,
    title, company, created_at, updated_at`

const queryGetApplication = `
SELECT` + applicationColumns + `
FROM applications
WHERE job_id = $1`

const queryGetApplicationsIn = `
SELECT` + applicationColumns + `
FROM applications
WHERE job_id IN (%s)`

const queryListApplications = `
SELECT` + applicationColumns + `
FROM applications
ORDER BY updated_at DESC, job_id ASC
LIMIT $1 OFFSET $2`

const queryUpsertApplication = `
INSERT INTO applications (job_id, status, submitted_at, attempts, last_error, last_attempt_at, title, company, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (job_id) DO UPDATE SET
    status = excluded.status,
    submitted_at = excluded.submitted_at,
    attempts = excluded.attempts,
    last_error = excluded.last_error,
    last_attempt_at = excluded.last_attempt_at,
    title = excluded.title,
    company = excluded.company,
    updated_at = excluded.updated_at`

const queryListStale = `
SELECT` + applicationColumns + `
FROM applications
WHERE status = 'submitting'
  AND last_attempt_at < $1
ORDER BY last_attempt_at ASC
LIMIT $2`

const queryStatusCounts = `
SELECT status, COUNT(*)
FROM applications
GROUP BY status`

const queryInsertAttempt = `
INSERT INTO attempts (id, job_id, run_id, triggered_by, started_at)
VALUES ($1, $2, $3, $4, $5)`

const queryCompleteAttempt = `
UPDATE attempts
SET outcome = $1, error = $2, finished_at = $3
WHERE id = $4`

const queryInterruptOpenAttempts = `
UPDATE attempts
SET outcome = $1, error = $2, finished_at = $3
WHERE job_id = $4
  AND finished_at IS NULL`

const queryCountAttemptsSince = `
SELECT COUNT(*)
FROM attempts
WHERE started_at >= $1`

const queryCountScheduledAttemptsSince = `
SELECT COUNT(*)
FROM attempts
WHERE started_at >= $1
  AND triggered_by <> 'manual'`

const queryListAttempts = `
SELECT id, job_id, run_id, triggered_by, outcome, error, started_at, finished_at
FROM attempts
WHERE job_id = $1
ORDER BY started_at ASC`

const queryInsertRun = `
INSERT INTO dispatch_runs (id, triggered_by, started_at, window_target)
VALUES ($1, $2, $3, $4)`

const queryFinishRun = `
UPDATE dispatch_runs
SET finished_at = $1, attempted = $2, succeeded = $3, failed = $4, skipped = $5,
    cancelled = $6, rate_limited = $7, quota_exhausted = $8
WHERE id = $9`

const queryGetRun = `
SELECT id, triggered_by, started_at, finished_at, window_target,
       attempted, succeeded, failed, skipped, cancelled, rate_limited, quota_exhausted
FROM dispatch_runs
WHERE id = $1`
