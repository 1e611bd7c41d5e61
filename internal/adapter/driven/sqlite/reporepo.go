package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepoStore = (*RepoRepo)(nil)

// RepoRepo is the SQLite implementation of the RepoStore port interface.
type RepoRepo struct {
	db *DB
}

// NewRepoRepo creates a new RepoRepo backed by the given DB.
func NewRepoRepo(db *DB) *RepoRepo {
	return &RepoRepo{db: db}
}

const repoColumns = `name, push, enabled, added_at`

// Add inserts a new repository. Stale watermarks left by an earlier
// registration of the same name are cleared in the same transaction.
func (r *RepoRepo) Add(ctx context.Context, repo model.Repository) error {
	addedAt := repo.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO repositories (name, push, enabled, added_at) VALUES (?, ?, ?, ?)`,
			repo.FullName, repo.PushEnabled, repo.Enabled, formatTime(addedAt),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint") {
				return fmt.Errorf("add repository %s: %w", repo.FullName, driven.ErrRepoAlreadyExists)
			}
			return fmt.Errorf("add repository %s: %w", repo.FullName, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM watermarks WHERE name = ?`, repo.FullName); err != nil {
			return fmt.Errorf("clear watermarks %s: %w", repo.FullName, err)
		}
		return nil
	})
}

// Remove deletes a repository together with its channel assignments and
// persisted watermarks.
func (r *RepoRepo) Remove(ctx context.Context, fullName string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM repos2channels WHERE name = ?`, fullName); err != nil {
			return fmt.Errorf("remove assignments %s: %w", fullName, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM watermarks WHERE name = ?`, fullName); err != nil {
			return fmt.Errorf("remove watermarks %s: %w", fullName, err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM repositories WHERE name = ?`, fullName)
		if err != nil {
			return fmt.Errorf("remove repository %s: %w", fullName, err)
		}
		return requireRow(result, "remove repository", fullName)
	})
}

// GetByFullName retrieves a repository by its full name. Returns nil, nil if
// the repository does not exist.
func (r *RepoRepo) GetByFullName(ctx context.Context, fullName string) (*model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories WHERE name = ?`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, fullName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", fullName, err)
	}

	return repo, nil
}

// ListAll returns all repositories ordered by name.
func (r *RepoRepo) ListAll(ctx context.Context) ([]model.Repository, error) {
	return r.list(ctx, `SELECT `+repoColumns+` FROM repositories ORDER BY name`)
}

// ListPollable returns enabled repositories without push delivery, ordered by name.
func (r *RepoRepo) ListPollable(ctx context.Context) ([]model.Repository, error) {
	return r.list(ctx, `SELECT `+repoColumns+` FROM repositories WHERE push = 0 AND enabled = 1 ORDER BY name`)
}

func (r *RepoRepo) list(ctx context.Context, query string) ([]model.Repository, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}

	return repos, nil
}

// SetEnabled updates the enabled flag.
func (r *RepoRepo) SetEnabled(ctx context.Context, fullName string, enabled bool) error {
	result, err := r.db.Writer.ExecContext(ctx, `UPDATE repositories SET enabled = ? WHERE name = ?`, enabled, fullName)
	if err != nil {
		return fmt.Errorf("set enabled %s: %w", fullName, err)
	}
	return requireRow(result, "set enabled", fullName)
}

// SetPush updates the push flag.
func (r *RepoRepo) SetPush(ctx context.Context, fullName string, push bool) error {
	result, err := r.db.Writer.ExecContext(ctx, `UPDATE repositories SET push = ? WHERE name = ?`, push, fullName)
	if err != nil {
		return fmt.Errorf("set push %s: %w", fullName, err)
	}
	return requireRow(result, "set push", fullName)
}

// Assign subscribes a channel to a repository. Assigning twice is a no-op.
func (r *RepoRepo) Assign(ctx context.Context, fullName, channel string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireRepo(ctx, tx, fullName); err != nil {
			return fmt.Errorf("assign %s: %w", fullName, err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO repos2channels (name, channel) VALUES (?, ?) ON CONFLICT(name, channel) DO NOTHING`,
			fullName, channel,
		)
		if err != nil {
			return fmt.Errorf("assign %s to %s: %w", channel, fullName, err)
		}
		return nil
	})
}

// Unassign removes a channel subscription if present.
func (r *RepoRepo) Unassign(ctx context.Context, fullName, channel string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireRepo(ctx, tx, fullName); err != nil {
			return fmt.Errorf("unassign %s: %w", fullName, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM repos2channels WHERE name = ? AND channel = ?`, fullName, channel); err != nil {
			return fmt.Errorf("unassign %s from %s: %w", channel, fullName, err)
		}
		return nil
	})
}

// ChannelsFor returns the channels subscribed to a repository, ordered by name.
func (r *RepoRepo) ChannelsFor(ctx context.Context, fullName string) ([]string, error) {
	rows, err := r.db.Reader.QueryContext(ctx, `SELECT channel FROM repos2channels WHERE name = ? ORDER BY channel`, fullName)
	if err != nil {
		return nil, fmt.Errorf("channels for %s: %w", fullName, err)
	}
	defer rows.Close()

	channels := []string{}
	for rows.Next() {
		var channel string
		if err := rows.Scan(&channel); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, channel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	return channels, nil
}

// ListAssignments returns every channel assignment ordered by repository and channel.
func (r *RepoRepo) ListAssignments(ctx context.Context) ([]model.ChannelAssignment, error) {
	rows, err := r.db.Reader.QueryContext(ctx, `SELECT name, channel FROM repos2channels ORDER BY name, channel`)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []model.ChannelAssignment
	for rows.Next() {
		var a model.ChannelAssignment
		if err := rows.Scan(&a.RepoFullName, &a.Channel); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}

	return assignments, nil
}

// inTx runs fn in a writer transaction, committing if fn returns nil.
func (r *RepoRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return withTx(ctx, r.db.Writer, fn)
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func requireRepo(ctx context.Context, tx *sql.Tx, fullName string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM repositories WHERE name = ?`, fullName).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return driven.ErrRepoNotFound
	}
	return err
}

func requireRow(result sql.Result, op, fullName string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", op, fullName, driven.ErrRepoNotFound)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRepository(s scanner) (*model.Repository, error) {
	var repo model.Repository
	var addedAt string

	if err := s.Scan(&repo.FullName, &repo.PushEnabled, &repo.Enabled, &addedAt); err != nil {
		return nil, err
	}

	owner, name, err := model.SplitFullName(repo.FullName)
	if err != nil {
		return nil, err
	}
	repo.Owner, repo.Name = owner, name

	repo.AddedAt, err = parseTime(addedAt)
	if err != nil {
		return nil, fmt.Errorf("parse added_at: %w", err)
	}

	return &repo, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
