package profile

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"ProjChat/module/chat/model"
	errs "ProjChat/tools/errs"
)

// PgRepo reads profiles from the account database (Postgres). The relay
// never writes this table.
type PgRepo struct {
	pool *pgxpool.Pool
}

func OpenPg(ctx context.Context, dsn string) (*PgRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "pgx pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pg ping")
	}
	return &PgRepo{pool: pool}, nil
}

func (r *PgRepo) Close() {
	r.pool.Close()
}

const resolveSQL = `
SELECT display_name, COALESCE(avatar_ref, ''), account_kind
FROM profiles
WHERE kind = $1 AND ext_id = $2`

func (r *PgRepo) Resolve(ctx context.Context, id model.Identity) (*Profile, error) {
	if err := id.Validate(); err != nil {
		return nil, errs.ErrProfileNotFound.WrapMsg("bad identity", "err", err)
	}
	p := &Profile{Identity: id}
	err := r.pool.QueryRow(ctx, resolveSQL, string(id.Kind), id.ID).
		Scan(&p.DisplayName, &p.AvatarRef, &p.AccountKind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrProfileNotFound.WrapMsg("resolve", "identity", id.Key())
		}
		return nil, errors.Wrap(err, "profile query")
	}
	return p, nil
}
