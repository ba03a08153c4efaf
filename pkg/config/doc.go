// Package config loads the ledger configuration.
//
// # Sources
//
// Values start from Default, are overlaid by an optional YAML file and then by
// LEDGER_* environment variables. The result is validated before use.
//
//	audit:
//	  verbosity: 3          # 0 disables, 1 (trace) .. 6 (critical)
//	  sink: json            # text, json, callback, sql, multi
//	  multi_sinks: [text, sql]
//	  sql_driver: sqlite
//	  sql_dsn: /var/lib/ledger/audit.db
//	  rotate: true
//	  rotation_period_days: 1
//	  directory: /var/log/ledger
//	  prefix: audit
//	retention:
//	  days: 90
//	  archive: true
//	  schedule: "0 3 * * *"
//	archive:
//	  bucket: ledger-archive
//	  region: us-east-1
//	repository:
//	  driver: postgres      # memory, sqlite, postgres, redis
//	  dsn: postgres://localhost/ledger?sslmode=disable
//	observability:
//	  log_level: info
//	  otel_enabled: true
//	  otel_endpoint: collector:4317
//
// # Environment
//
//	LEDGER_AUDIT_VERBOSITY="3"
//	LEDGER_AUDIT_SINK="text"
//	LEDGER_AUDIT_MULTI_SINKS="text,sql"
//	LEDGER_AUDIT_SQL_DRIVER="postgres"
//	LEDGER_AUDIT_SQL_DSN="postgres://localhost/ledger"
//	LEDGER_AUDIT_ROTATE="true"
//	LEDGER_AUDIT_ROTATION_PERIOD_DAYS="1"
//	LEDGER_AUDIT_DIR="/var/log/ledger"
//	LEDGER_AUDIT_PREFIX="audit"
//	LEDGER_AUDIT_EXTENSION="log"
//	LEDGER_RETENTION_DAYS="90"
//	LEDGER_RETENTION_ARCHIVE="false"
//	LEDGER_RETENTION_SCHEDULE="0 3 * * *"
//	LEDGER_S3_BUCKET, LEDGER_S3_REGION, LEDGER_S3_ENDPOINT, LEDGER_S3_PREFIX
//	LEDGER_S3_ACCESS_KEY, LEDGER_S3_SECRET_KEY, LEDGER_S3_USE_PATH_STYLE
//	LEDGER_REPOSITORY_DRIVER="memory"
//	LEDGER_REPOSITORY_DSN=""
//	LEDGER_LOG_LEVEL="info"  # debug, info, warn, error
//	LEDGER_METRICS_FILE=""
//	LEDGER_OTEL_ENABLED="false"
//	LEDGER_OTEL_ENDPOINT="localhost:4317"
//	LEDGER_OTEL_INSECURE="true"
//	LEDGER_SERVICE_NAME="ledger"
//
// Validation failures wrap sentinel.ErrConfiguration.
package config
