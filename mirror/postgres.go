package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// Schema for the mirror tables. Address columns store the hex form; identity
// columns store base58, matching the wire representation so queries can be
// written straight from API inputs.
const mirrorSchema = `
CREATE TABLE IF NOT EXISTS mirror_records (
	address           TEXT PRIMARY KEY,
	owner_identity    TEXT NOT NULL,
	content_address   TEXT NOT NULL,
	content_digest    TEXT NOT NULL,
	file_name         TEXT NOT NULL,
	owner_wrapped_key TEXT NOT NULL,
	active            BOOLEAN NOT NULL,
	created_at        BIGINT NOT NULL,
	version           BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS mirror_records_owner_idx ON mirror_records (owner_identity) WHERE active;

CREATE TABLE IF NOT EXISTS mirror_grants (
	address             TEXT PRIMARY KEY,
	record_address      TEXT NOT NULL,
	requester_identity  TEXT NOT NULL,
	granter_identity    TEXT NOT NULL,
	requester_wrapped_key TEXT NOT NULL,
	active              BOOLEAN NOT NULL,
	granted_at          BIGINT NOT NULL,
	revoked_at          BIGINT NOT NULL,
	version             BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS mirror_grants_requester_idx ON mirror_grants (requester_identity) WHERE active;

CREATE TABLE IF NOT EXISTS mirror_cursor (
	id  INTEGER PRIMARY KEY CHECK (id = 0),
	seq BIGINT NOT NULL
);
INSERT INTO mirror_cursor (id, seq) VALUES (0, 0) ON CONFLICT (id) DO NOTHING;
`

// PostgresStore is a MirrorStore on a Postgres pool. Upserts are version
// guarded in SQL, so replayed events never move a row backwards.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the given database URL and ensures the mirror
// schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not create mirror database pool: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, mirrorSchema); err != nil {
		return fmt.Errorf("could not initialize mirror schema: %w", err)
	}
	return nil
}

// UpsertRecord writes a record projection unless the stored row is newer.
func (s *PostgresStore) UpsertRecord(ctx context.Context, record interfaces.Record) error {
	query := `
		INSERT INTO mirror_records
			(address, owner_identity, content_address, content_digest, file_name, owner_wrapped_key, active, created_at, version)
		VALUES
			(@address, @owner, @contentAddress, @contentDigest, @fileName, @ownerWrappedKey, @active, @createdAt, @version)
		ON CONFLICT (address) DO UPDATE SET
			owner_wrapped_key = EXCLUDED.owner_wrapped_key,
			active = EXCLUDED.active,
			version = EXCLUDED.version
		WHERE mirror_records.version < EXCLUDED.version`

	args := pgx.NamedArgs{
		"address":         record.Address.String(),
		"owner":           record.Owner.String(),
		"contentAddress":  record.ContentAddress,
		"contentDigest":   record.ContentDigest,
		"fileName":        record.FileName,
		"ownerWrappedKey": record.OwnerWrappedKey,
		"active":          record.Active,
		"createdAt":       record.CreatedAt,
		"version":         record.Version,
	}
	if _, err := s.pool.Exec(ctx, query, args); err != nil {
		return fmt.Errorf("could not upsert record projection: %w", err)
	}
	return nil
}

// UpsertGrant writes a grant projection unless the stored row is newer.
func (s *PostgresStore) UpsertGrant(ctx context.Context, grant interfaces.Grant) error {
	query := `
		INSERT INTO mirror_grants
			(address, record_address, requester_identity, granter_identity, requester_wrapped_key, active, granted_at, revoked_at, version)
		VALUES
			(@address, @recordAddress, @requester, @granter, @requesterWrappedKey, @active, @grantedAt, @revokedAt, @version)
		ON CONFLICT (address) DO UPDATE SET
			requester_wrapped_key = EXCLUDED.requester_wrapped_key,
			active = EXCLUDED.active,
			granted_at = EXCLUDED.granted_at,
			revoked_at = EXCLUDED.revoked_at,
			version = EXCLUDED.version
		WHERE mirror_grants.version < EXCLUDED.version`

	args := pgx.NamedArgs{
		"address":             grant.Address.String(),
		"recordAddress":       grant.RecordAddress.String(),
		"requester":           grant.Requester.String(),
		"granter":             grant.Granter.String(),
		"requesterWrappedKey": grant.RequesterWrappedKey,
		"active":              grant.Active,
		"grantedAt":           grant.GrantedAt,
		"revokedAt":           grant.RevokedAt,
		"version":             grant.Version,
	}
	if _, err := s.pool.Exec(ctx, query, args); err != nil {
		return fmt.Errorf("could not upsert grant projection: %w", err)
	}
	return nil
}

// Cursor returns the last durably applied event sequence.
func (s *PostgresStore) Cursor(ctx context.Context) (uint64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT seq FROM mirror_cursor WHERE id = 0`).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("could not read mirror cursor: %w", err)
	}
	return uint64(seq), nil
}

// SetCursor advances the durable event cursor. Never moves backwards.
func (s *PostgresStore) SetCursor(ctx context.Context, seq uint64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE mirror_cursor SET seq = @seq WHERE id = 0 AND seq < @seq`,
		pgx.NamedArgs{"seq": seq},
	)
	if err != nil {
		return fmt.Errorf("could not advance mirror cursor: %w", err)
	}
	return nil
}

// ListOwnedActiveRecords returns active records owned by owner.
func (s *PostgresStore) ListOwnedActiveRecords(ctx context.Context, owner interfaces.Identity) ([]interfaces.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, owner_identity, content_address, content_digest, file_name, owner_wrapped_key, active, created_at, version
		FROM mirror_records
		WHERE owner_identity = @owner AND active
		ORDER BY address`,
		pgx.NamedArgs{"owner": owner.String()},
	)
	if err != nil {
		return nil, fmt.Errorf("could not query owned records: %w", err)
	}
	defer rows.Close()
	return scanRecordRows(rows)
}

// ListGrantedActiveRecords returns active grants held by requester joined
// with their records.
func (s *PostgresStore) ListGrantedActiveRecords(ctx context.Context, requester interfaces.Identity) ([]interfaces.SharedRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			r.address, r.owner_identity, r.content_address, r.content_digest, r.file_name, r.owner_wrapped_key, r.active, r.created_at, r.version,
			g.address, g.record_address, g.requester_identity, g.granter_identity, g.requester_wrapped_key, g.active, g.granted_at, g.revoked_at, g.version
		FROM mirror_grants g
		JOIN mirror_records r ON r.address = g.record_address
		WHERE g.requester_identity = @requester AND g.active
		ORDER BY g.address`,
		pgx.NamedArgs{"requester": requester.String()},
	)
	if err != nil {
		return nil, fmt.Errorf("could not query granted records: %w", err)
	}
	defer rows.Close()

	var out []interfaces.SharedRecord
	for rows.Next() {
		var (
			shared                              interfaces.SharedRecord
			recordAddr, ownerID                 string
			grantAddr, grantRecordAddr          string
			requesterID, granterID              string
			recordCreatedAt, grantedAt, revoked int64
			recordVersion, grantVersion         int64
		)
		err := rows.Scan(
			&recordAddr, &ownerID, &shared.Record.ContentAddress, &shared.Record.ContentDigest,
			&shared.Record.FileName, &shared.Record.OwnerWrappedKey, &shared.Record.Active, &recordCreatedAt, &recordVersion,
			&grantAddr, &grantRecordAddr, &requesterID, &granterID,
			&shared.Grant.RequesterWrappedKey, &shared.Grant.Active, &grantedAt, &revoked, &grantVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("could not scan shared record row: %w", err)
		}

		if err := assignAddress(&shared.Record.Address, recordAddr); err != nil {
			return nil, err
		}
		if err := assignIdentity(&shared.Record.Owner, ownerID); err != nil {
			return nil, err
		}
		if err := assignAddress(&shared.Grant.Address, grantAddr); err != nil {
			return nil, err
		}
		if err := assignAddress(&shared.Grant.RecordAddress, grantRecordAddr); err != nil {
			return nil, err
		}
		if err := assignIdentity(&shared.Grant.Requester, requesterID); err != nil {
			return nil, err
		}
		if err := assignIdentity(&shared.Grant.Granter, granterID); err != nil {
			return nil, err
		}
		shared.Record.CreatedAt = recordCreatedAt
		shared.Record.Version = uint64(recordVersion)
		shared.Grant.GrantedAt = grantedAt
		shared.Grant.RevokedAt = revoked
		shared.Grant.Version = uint64(grantVersion)
		out = append(out, shared)
	}
	return out, rows.Err()
}

// ListAllRecords returns every record projection.
func (s *PostgresStore) ListAllRecords(ctx context.Context) ([]interfaces.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, owner_identity, content_address, content_digest, file_name, owner_wrapped_key, active, created_at, version
		FROM mirror_records
		ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("could not query record projections: %w", err)
	}
	defer rows.Close()
	return scanRecordRows(rows)
}

func scanRecordRows(rows pgx.Rows) ([]interfaces.Record, error) {
	var out []interfaces.Record
	for rows.Next() {
		var (
			record        interfaces.Record
			addr, ownerID string
			createdAt     int64
			version       int64
		)
		err := rows.Scan(
			&addr, &ownerID, &record.ContentAddress, &record.ContentDigest,
			&record.FileName, &record.OwnerWrappedKey, &record.Active, &createdAt, &version,
		)
		if err != nil {
			return nil, fmt.Errorf("could not scan record row: %w", err)
		}
		if err := assignAddress(&record.Address, addr); err != nil {
			return nil, err
		}
		if err := assignIdentity(&record.Owner, ownerID); err != nil {
			return nil, err
		}
		record.CreatedAt = createdAt
		record.Version = uint64(version)
		out = append(out, record)
	}
	return out, rows.Err()
}

func assignAddress(dst *interfaces.EntityAddress, hexAddr string) error {
	parsed, err := interfaces.NewEntityAddressFromHex(hexAddr)
	if err != nil {
		return fmt.Errorf("corrupt address in mirror row: %w", err)
	}
	*dst = parsed
	return nil
}

func assignIdentity(dst *interfaces.Identity, b58 string) error {
	parsed, err := interfaces.NewIdentityFromString(b58)
	if err != nil {
		return fmt.Errorf("corrupt identity in mirror row: %w", err)
	}
	*dst = parsed
	return nil
}
