package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/xela07ax/dialoguard/internal/session"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// ConversationRepo — durable-хранилище истории диалогов.
// Записи несут собственный expires_at (90 дней по умолчанию): авторитетная
// граница хранения — здесь, а не в кэше.
type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(connString string) *ConversationRepo {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		// В main мы проверим соединение через Ping
		log.Fatal(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &ConversationRepo{db: db}
}

// Ping проверяет доступность базы при старте
func (r *ConversationRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Query возвращает записи сессии; просроченные (expires_at в прошлом)
// отфильтровываются на чтении, физическую чистку делает внешний джоб.
func (r *ConversationRepo) Query(ctx context.Context, sessionID string, limit int, orderDesc bool) ([]session.Record, error) {
	order := "ASC"
	if orderDesc {
		order = "DESC"
	}

	query := fmt.Sprintf(
		`SELECT session_id, ts, role, content, COALESCE(caller_id, ''), COALESCE(metadata, '{}'), expires_at
		 FROM conversation_turns
		 WHERE session_id = $1 AND expires_at > NOW()
		 ORDER BY ts %s`, order)

	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query turns: %w", err)
	}
	defer rows.Close()

	var records []session.Record
	for rows.Next() {
		var rec session.Record
		var metaRaw []byte
		if err := rows.Scan(&rec.SessionID, &rec.Timestamp, &rec.Role, &rec.Content, &rec.CallerID, &metaRaw, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("postgres: scan turn: %w", err)
		}
		if len(metaRaw) > 0 {
			_ = json.Unmarshal(metaRaw, &rec.Metadata)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// PutBatch сохраняет пачку ходов одним INSERT (динамический multi-VALUES).
func (r *ConversationRepo) PutBatch(ctx context.Context, records []session.Record) error {
	if len(records) == 0 {
		return nil
	}

	// Количество колонок в таблице conversation_turns
	numFields := 7
	placeholderStr := ""
	vals := make([]interface{}, 0, len(records)*numFields)

	for i, rec := range records {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7)

		meta, _ := json.Marshal(rec.Metadata)

		vals = append(vals,
			rec.SessionID, rec.Timestamp, rec.Role, rec.Content,
			rec.CallerID, meta, rec.ExpiresAt,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO conversation_turns (session_id, ts, role, content, caller_id, metadata, expires_at) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("postgres: put batch: %w", err)
	}
	return nil
}

// Delete удаляет одну запись по ключу (session_id, ts). Используется
// компактацией; удаления независимы, частичный сбой допустим.
func (r *ConversationRepo) Delete(ctx context.Context, sessionID string, ts time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM conversation_turns WHERE session_id = $1 AND ts = $2`,
		sessionID, ts,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete turn: %w", err)
	}
	return nil
}
