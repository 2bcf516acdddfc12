package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pigeon/internal/domain"
)

// Postgres implements UserStore and RelationStore over a pgx pool. Compound
// relation transitions run inside a repeatable-read transaction so the
// check and the write cannot be split by a concurrent caller.
type Postgres struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool against connString and verifies it with a
// ping.
func ConnectPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// EnsureSchema creates the tables if they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			username      TEXT PRIMARY KEY,
			password_hash BYTEA NOT NULL,
			password_salt BYTEA NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS relations (
			sender   TEXT NOT NULL REFERENCES users(username),
			receiver TEXT NOT NULL REFERENCES users(username),
			status   TEXT NOT NULL CHECK (status IN ('requested', 'friends')),
			PRIMARY KEY (sender, receiver)
		);
	`)
	return err
}

func (p *Postgres) CreateUser(ctx context.Context, username string, hash, salt []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO users (username, password_hash, password_salt) VALUES ($1, $2, $3)`,
		username, hash, salt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrUsernameTaken
	}
	return err
}

func (p *Postgres) GetUser(ctx context.Context, username string) (domain.User, error) {
	var user domain.User
	err := p.pool.QueryRow(ctx,
		`SELECT username, password_hash, password_salt FROM users WHERE username = $1`,
		username).Scan(&user.Username, &user.PasswordHash, &user.PasswordSalt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUnknownUser
	}
	return user, err
}

func (p *Postgres) UpdatePassword(ctx context.Context, username string, hash, salt []byte) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE users SET password_hash = $1, password_salt = $2 WHERE username = $3`,
		hash, salt, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUnknownUser
	}
	return nil
}

func (p *Postgres) PromoteIfRequested(ctx context.Context, me, peer string) (bool, error) {
	promoted := false
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockPair(ctx, tx, me, peer); err != nil {
			return err
		}
		var status string
		err := tx.QueryRow(ctx,
			`SELECT status FROM relations WHERE sender = $1 AND receiver = $2 FOR UPDATE`,
			peer, me).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && status != edgeRequested) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := promoteTx(ctx, tx, me, peer); err != nil {
			return err
		}
		promoted = true
		return nil
	})
	return promoted, err
}

func (p *Postgres) SetRequested(ctx context.Context, me, peer string) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockPair(ctx, tx, me, peer); err != nil {
			return err
		}
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM relations
				WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)
			)`, me, peer).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrAlreadyRelated
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO relations (sender, receiver, status) VALUES ($1, $2, $3)`,
			me, peer, edgeRequested)
		return err
	})
}

func (p *Postgres) AcceptRequest(ctx context.Context, me, peer string) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockPair(ctx, tx, me, peer); err != nil {
			return err
		}
		var status string
		err := tx.QueryRow(ctx,
			`SELECT status FROM relations WHERE sender = $1 AND receiver = $2 FOR UPDATE`,
			peer, me).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && status != edgeRequested) {
			return domain.ErrNoPendingRequest
		}
		if err != nil {
			return err
		}
		return promoteTx(ctx, tx, me, peer)
	})
}

func (p *Postgres) DeleteRequest(ctx context.Context, me, peer string) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM relations WHERE sender = $1 AND receiver = $2 AND status = $3`,
		peer, me, edgeRequested)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoPendingRequest
	}
	return nil
}

func (p *Postgres) DeleteFriendship(ctx context.Context, me, peer string) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM relations
			 WHERE status = $3
			   AND ((sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1))`,
			me, peer, edgeFriends)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 2 {
			return domain.ErrNotFriends
		}
		return nil
	})
}

func (p *Postgres) AreFriends(ctx context.Context, a, b string) (bool, error) {
	var count int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM relations
		 WHERE status = $3
		   AND ((sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1))`,
		a, b, edgeFriends).Scan(&count)
	return count == 2, err
}

func (p *Postgres) ListRelations(ctx context.Context, me string) ([]domain.Relation, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT sender, receiver, status FROM relations WHERE sender = $1 OR receiver = $1`,
		me)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []domain.Relation
	for rows.Next() {
		var sender, receiver, status string
		if err := rows.Scan(&sender, &receiver, &status); err != nil {
			return nil, err
		}
		switch {
		case sender == me && status == edgeFriends:
			relations = append(relations, domain.Relation{Peer: receiver, State: domain.RelationFriends})
		case sender == me && status == edgeRequested:
			relations = append(relations, domain.Relation{Peer: receiver, State: domain.RelationRequestSent})
		case receiver == me && status == edgeRequested:
			relations = append(relations, domain.Relation{Peer: sender, State: domain.RelationRequestReceived})
		}
	}
	return relations, rows.Err()
}

// lockPair takes the advisory lock for the unordered username pair. Under
// snapshot isolation two crossed SetRequested transactions insert distinct
// rows and commit without ever conflicting, leaving dual pending edges the
// tie-break can no longer reach; serialising check-then-write transitions on
// the pair closes that window.
func lockPair(ctx context.Context, tx pgx.Tx, a, b string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, pairLockKey(a, b))
	return err
}

// pairLockKey hashes the sorted pair into one advisory lock key, so both
// orderings of the same two users contend for the same lock.
func pairLockKey(a, b string) int64 {
	if b < a {
		a, b = b, a
	}
	h := fnv.New64a()
	h.Write([]byte(a))
	h.Write([]byte{0})
	h.Write([]byte(b))
	return int64(h.Sum64())
}

// promoteTx replaces the pending request peer->me with the symmetric friends
// pair. Must run inside a transaction that has locked the request row.
func promoteTx(ctx context.Context, tx pgx.Tx, me, peer string) error {
	if _, err := tx.Exec(ctx,
		`UPDATE relations SET status = $3 WHERE sender = $1 AND receiver = $2`,
		peer, me, edgeFriends); err != nil {
		return err
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO relations (sender, receiver, status) VALUES ($1, $2, $3)
		 ON CONFLICT (sender, receiver) DO UPDATE SET status = EXCLUDED.status`,
		me, peer, edgeFriends)
	return err
}

func (p *Postgres) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

var (
	_ domain.UserStore     = (*Postgres)(nil)
	_ domain.RelationStore = (*Postgres)(nil)
)
