// Package postgres provides PostgreSQL storage for volunteer profiles.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq" // PostgreSQL driver

	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"github.com/jrsteele09/volunteer-gateway/policy"
	"github.com/jrsteele09/volunteer-gateway/profiles"
)

const table = "users"

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// profileColumns lists columns in scan order.
var profileColumns = []string{
	"id", "email", "name", "phone", "role",
	"google_profile", "discord_profile", "created_at", "updated_at",
}

// Store implements profiles.Repo using PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ profiles.Repo = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

func (s *Store) Get(ctx context.Context, id string) (*profiles.Profile, error) {
	query, args, err := psq.Select(profileColumns...).From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building profile query: %w", err)
	}

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gwerrors.Wrapf(gwerrors.ErrNotFound, "profile %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile %s: %w", id, err)
	}
	return p, nil
}

// Create inserts p. A row with the same id already present is reported as
// ErrAlreadyExists rather than overwritten.
func (s *Store) Create(ctx context.Context, p *profiles.Profile) error {
	google, err := marshalJSON(p.GoogleProfile)
	if err != nil {
		return err
	}
	discord, err := marshalJSON(p.DiscordProfile)
	if err != nil {
		return err
	}

	query, args, err := psq.Insert(table).
		Columns(profileColumns...).
		Values(p.ID, p.Email, p.Name, nullString(p.Phone), string(p.Role), google, discord, p.CreatedAt, p.UpdatedAt).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("building profile insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("inserting profile %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inserting profile %s: %w", p.ID, err)
	}
	if n == 0 {
		return gwerrors.Wrapf(gwerrors.ErrAlreadyExists, "profile %s", p.ID)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, id string, patch profiles.Patch) (*profiles.Profile, error) {
	set := map[string]any{"updated_at": profiles.NowTimeFunc().UTC()}
	if patch.Email != nil {
		set["email"] = *patch.Email
	}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Phone != nil {
		set["phone"] = nullString(*patch.Phone)
	}
	if patch.Role != nil {
		if !patch.Role.Valid() {
			return nil, fmt.Errorf("%w: role %q", gwerrors.ErrInvalidPolicy, *patch.Role)
		}
		set["role"] = string(*patch.Role)
	}
	if patch.GoogleProfile != nil {
		b, err := marshalJSON(patch.GoogleProfile)
		if err != nil {
			return nil, err
		}
		set["google_profile"] = b
	}
	if patch.DiscordProfile != nil {
		b, err := marshalJSON(patch.DiscordProfile)
		if err != nil {
			return nil, err
		}
		set["discord_profile"] = b
	}

	query, args, err := psq.Update(table).
		SetMap(set).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(profileColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building profile update: %w", err)
	}

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gwerrors.Wrapf(gwerrors.ErrNotFound, "profile %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("updating profile %s: %w", id, err)
	}
	return p, nil
}

func scanProfile(row *sql.Row) (*profiles.Profile, error) {
	var (
		p       profiles.Profile
		phone   sql.NullString
		role    string
		google  []byte
		discord []byte
	)
	if err := row.Scan(&p.ID, &p.Email, &p.Name, &phone, &role, &google, &discord, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Phone = phone.String
	p.Role = policy.Role(role)

	if len(google) > 0 {
		if err := json.Unmarshal(google, &p.GoogleProfile); err != nil {
			return nil, fmt.Errorf("decoding google_profile: %w", err)
		}
	}
	if len(discord) > 0 {
		if err := json.Unmarshal(discord, &p.DiscordProfile); err != nil {
			return nil, fmt.Errorf("decoding discord_profile: %w", err)
		}
	}
	return &p, nil
}

// marshalJSON encodes a jsonb column; nil maps are stored as NULL.
func marshalJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding profile metadata: %w", err)
	}
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
