package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepoStore = (*RepoRepo)(nil)

const uniqueViolation = "23505"

// RepoRepo is the PostgreSQL implementation of the RepoStore port interface.
type RepoRepo struct {
	pool *pgxpool.Pool
}

// NewRepoRepo creates a RepoRepo backed by pool.
func NewRepoRepo(pool *pgxpool.Pool) *RepoRepo {
	return &RepoRepo{pool: pool}
}

const repoColumns = `name, push, enabled, added_at`

// Add inserts a new repository and clears stale watermarks of the same name.
func (r *RepoRepo) Add(ctx context.Context, repo model.Repository) error {
	addedAt := repo.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}

	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO repositories (name, push, enabled, added_at) VALUES ($1, $2, $3, $4)`,
			repo.FullName, repo.PushEnabled, repo.Enabled, addedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("add repository %s: %w", repo.FullName, driven.ErrRepoAlreadyExists)
			}
			return fmt.Errorf("add repository %s: %w", repo.FullName, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM watermarks WHERE name = $1`, repo.FullName); err != nil {
			return fmt.Errorf("clear watermarks %s: %w", repo.FullName, err)
		}
		return nil
	})
}

// Remove deletes a repository with its channel assignments and watermarks.
func (r *RepoRepo) Remove(ctx context.Context, fullName string) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM repos2channels WHERE name = $1`, fullName); err != nil {
			return fmt.Errorf("remove assignments %s: %w", fullName, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM watermarks WHERE name = $1`, fullName); err != nil {
			return fmt.Errorf("remove watermarks %s: %w", fullName, err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM repositories WHERE name = $1`, fullName)
		if err != nil {
			return fmt.Errorf("remove repository %s: %w", fullName, err)
		}
		return requireRow(tag, "remove repository", fullName)
	})
}

// GetByFullName returns nil, nil if the repository does not exist.
func (r *RepoRepo) GetByFullName(ctx context.Context, fullName string) (*model.Repository, error) {
	repo, err := scanRepository(r.pool.QueryRow(ctx, `SELECT `+repoColumns+` FROM repositories WHERE name = $1`, fullName))
	if errors.Is(err, pgx.ErrNoRows) {
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

// ListPollable returns enabled repositories without push delivery.
func (r *RepoRepo) ListPollable(ctx context.Context) ([]model.Repository, error) {
	return r.list(ctx, `SELECT `+repoColumns+` FROM repositories WHERE NOT push AND enabled ORDER BY name`)
}

func (r *RepoRepo) list(ctx context.Context, query string) ([]model.Repository, error) {
	rows, err := r.pool.Query(ctx, query)
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
	tag, err := r.pool.Exec(ctx, `UPDATE repositories SET enabled = $2 WHERE name = $1`, fullName, enabled)
	if err != nil {
		return fmt.Errorf("set enabled %s: %w", fullName, err)
	}
	return requireRow(tag, "set enabled", fullName)
}

// SetPush updates the push flag.
func (r *RepoRepo) SetPush(ctx context.Context, fullName string, push bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE repositories SET push = $2 WHERE name = $1`, fullName, push)
	if err != nil {
		return fmt.Errorf("set push %s: %w", fullName, err)
	}
	return requireRow(tag, "set push", fullName)
}

// Assign subscribes a channel to a repository. Assigning twice is a no-op.
func (r *RepoRepo) Assign(ctx context.Context, fullName, channel string) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := requireRepo(ctx, tx, fullName); err != nil {
			return fmt.Errorf("assign %s: %w", fullName, err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO repos2channels (name, channel) VALUES ($1, $2) ON CONFLICT (name, channel) DO NOTHING`,
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
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := requireRepo(ctx, tx, fullName); err != nil {
			return fmt.Errorf("unassign %s: %w", fullName, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM repos2channels WHERE name = $1 AND channel = $2`, fullName, channel); err != nil {
			return fmt.Errorf("unassign %s from %s: %w", channel, fullName, err)
		}
		return nil
	})
}

// ChannelsFor returns the channels subscribed to a repository, ordered by name.
func (r *RepoRepo) ChannelsFor(ctx context.Context, fullName string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT channel FROM repos2channels WHERE name = $1 ORDER BY channel`, fullName)
	if err != nil {
		return nil, fmt.Errorf("channels for %s: %w", fullName, err)
	}

	channels, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect channels: %w", err)
	}
	if channels == nil {
		channels = []string{}
	}
	return channels, nil
}

// ListAssignments returns every assignment ordered by repository and channel.
func (r *RepoRepo) ListAssignments(ctx context.Context) ([]model.ChannelAssignment, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, channel FROM repos2channels ORDER BY name, channel`)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}

	assignments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ChannelAssignment, error) {
		var a model.ChannelAssignment
		err := row.Scan(&a.RepoFullName, &a.Channel)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect assignments: %w", err)
	}
	return assignments, nil
}

// inTx runs fn in a transaction, committing if fn returns nil.
func inTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if rerr := tx.Rollback(ctx); rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
			slog.Error("tx rollback failed", "error", rerr)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func requireRepo(ctx context.Context, tx pgx.Tx, fullName string) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM repositories WHERE name = $1`, fullName).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return driven.ErrRepoNotFound
	}
	return err
}

func requireRow(tag pgconn.CommandTag, op, fullName string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", op, fullName, driven.ErrRepoNotFound)
	}
	return nil
}

func scanRepository(row pgx.Row) (*model.Repository, error) {
	var repo model.Repository
	if err := row.Scan(&repo.FullName, &repo.PushEnabled, &repo.Enabled, &repo.AddedAt); err != nil {
		return nil, err
	}

	owner, name, err := model.SplitFullName(repo.FullName)
	if err != nil {
		return nil, err
	}
	repo.Owner, repo.Name = owner, name
	repo.AddedAt = repo.AddedAt.UTC()

	return &repo, nil
}
