package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/xela07ax/dialoguard/internal/audit"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// ValidationLogRepo — хранилище инцидентов валидации (журнал галлюцинаций).
type ValidationLogRepo struct {
	db *sql.DB
}

func NewValidationLogRepo(connString string) *ValidationLogRepo {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		log.Fatal(err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &ValidationLogRepo{db: db}
}

func (r *ValidationLogRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// WriteBatch пишет пачку инцидентов одним INSERT.
func (r *ValidationLogRepo) WriteBatch(ctx context.Context, incidents []audit.Incident) error {
	if len(incidents) == 0 {
		return nil
	}

	// Количество колонок в таблице validation_log
	numFields := 12
	placeholderStr := ""
	vals := make([]interface{}, 0, len(incidents)*numFields)

	for i, inc := range incidents {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		vals = append(vals,
			inc.LogID, inc.TraceID, inc.SessionID,
			inc.UserQuery, inc.ToolResults, inc.ModelResponse,
			inc.IssueType, inc.Severity, inc.Verdict, inc.Action,
			inc.Timestamp, inc.ExpiresAt,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO validation_log (log_id, trace_id, session_id, user_query, tool_results, model_response, issue_type, severity, verdict, action_taken, timestamp, expires_at) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}
