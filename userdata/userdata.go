package userdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"portal-middleware/config"
	"portal-middleware/models"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Store is a per-user key/value store. Values are versioned by write time;
// reads return the most recent one.
type Store interface {
	Set(ctx context.Context, userID, field, value string) error
	Get(ctx context.Context, userID, field string) (string, error)
	// Query returns the latest value of every field matching a SQL LIKE
	// pattern.
	Query(ctx context.Context, userID, pattern string) (map[string]string, error)
}

const createTable = "CREATE TABLE IF NOT EXISTS user_data (user_id VARCHAR ( 64 ), app_id VARCHAR ( 36 ), tenant_id VARCHAR ( 36 ), field VARCHAR ( 128 ), value TEXT, updated_at bigint);"

// PostgresStore keeps user data in the user_data table, scoped by the
// FusionAuth application and tenant.
type PostgresStore struct {
	Pool     *pgxpool.Pool
	AppID    string
	TenantID string
}

// NewPostgresStore connects and makes sure the table exists.
func NewPostgresStore(ctx context.Context, conf config.Config) (*PostgresStore, error) {
	// https://github.com/jackc/pgx#example-usage
	pool, err := pgxpool.Connect(ctx, conf.PostgresConnString())
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err.Error())
	}
	_, err = pool.Exec(ctx, createTable)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create table: %v", err.Error())
	}
	return &PostgresStore{
		Pool:     pool,
		AppID:    conf.FusionAuth.AppID,
		TenantID: conf.FusionAuth.TenantID,
	}, nil
}

func (s *PostgresStore) Close() {
	s.Pool.Close()
}

// Set appends a new version of the field.
func (s *PostgresStore) Set(ctx context.Context, userID, field, value string) error {
	userData := models.UserData{
		UserID:    userID,
		AppID:     s.AppID,
		TenantID:  s.TenantID,
		Field:     field,
		Value:     value,
		UpdatedAt: time.Now().UnixNano() / 1000000,
	}
	_, err := s.Pool.Exec(
		ctx,
		"insert into user_data(user_id, app_id, tenant_id, field, value, updated_at) values($1, $2, $3, $4, $5, $6)",
		userData.UserID,
		userData.AppID,
		userData.TenantID,
		userData.Field,
		userData.Value,
		userData.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert id %v field %v: %v", userID, field, err.Error())
	}
	return nil
}

// Get returns the latest value of the field, or "" when it was never set.
func (s *PostgresStore) Get(ctx context.Context, userID, field string) (string, error) {
	value := ""
	err := s.Pool.QueryRow(
		ctx,
		"select value from user_data where user_id=$1 and app_id=$2 and tenant_id=$3 and field=$4 order by updated_at desc limit 1",
		userID,
		s.AppID,
		s.TenantID,
		field,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query select id %v field %v: %v", userID, field, err.Error())
	}
	return value, nil
}

func (s *PostgresStore) Query(ctx context.Context, userID, pattern string) (map[string]string, error) {
	result := make(map[string]string)
	rows, err := s.Pool.Query(
		ctx,
		`SELECT DISTINCT ON ("field") field, value FROM "user_data" WHERE field LIKE $1 AND user_id=$2 AND app_id=$3 AND tenant_id=$4 ORDER BY "field" DESC, "updated_at" DESC`,
		pattern,
		userID,
		s.AppID,
		s.TenantID,
	)
	if err != nil {
		return result, fmt.Errorf("failed to query select id %v field %v: %v", userID, pattern, err.Error())
	}
	defer rows.Close()
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return result, fmt.Errorf("failed to scan user data row: %v", err.Error())
		}
		result[field] = value
	}
	return result, rows.Err()
}

// MemoryStore is used when no database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	log.Printf("no database configured, user data will not survive a restart")
	return &MemoryStore{data: map[string]map[string]string{}}
}

func (s *MemoryStore) Set(ctx context.Context, userID, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.data[userID]
	if !ok {
		fields = map[string]string{}
		s.data[userID] = fields
	}
	fields[field] = value
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, userID, field string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[userID][field], nil
}

func (s *MemoryStore) Query(ctx context.Context, userID, pattern string) (map[string]string, error) {
	re, err := likePattern(pattern)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]string)
	for field, value := range s.data[userID] {
		if re.MatchString(field) {
			result[field] = value
		}
	}
	return result, nil
}

// likePattern translates the % and _ wildcards of SQL LIKE, with backslash
// as the escape character as in Postgres.
func likePattern(pattern string) (*regexp.Regexp, error) {
	b := strings.Builder{}
	b.WriteString("^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if escaped {
		return nil, fmt.Errorf("like pattern %q ends with an escape character", pattern)
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike quotes the LIKE wildcards in s so it only matches itself.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// SortedFields returns the keys of a Query result in order.
func SortedFields(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
