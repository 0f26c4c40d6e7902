package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// MarketStore implements domain.MarketStore over the markets and
// market_contracts tables.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketSelectCols = `m.id, m.slug, m.name, m.description, m.category, m.image_url`

// GetMetadata returns the descriptive record for slug, or domain.ErrNotFound.
func (s *MarketStore) GetMetadata(ctx context.Context, slug string) (domain.MarketMetadata, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets m WHERE m.slug = $1`

	var md domain.MarketMetadata
	err := s.pool.QueryRow(ctx, query, slug).Scan(
		&md.ID, &md.Slug, &md.Name, &md.Description, &md.Category, &md.ImageURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketMetadata{}, fmt.Errorf("postgres: market %s: %w", slug, domain.ErrNotFound)
		}
		return domain.MarketMetadata{}, fmt.Errorf("postgres: get market %s: %w", slug, err)
	}
	return md, nil
}

// GetContracts returns the ledger addresses for a market id, or
// domain.ErrNotFound when the market has no contracts row.
func (s *MarketStore) GetContracts(ctx context.Context, marketID string) (domain.Contracts, error) {
	const query = `
		SELECT chain_id, engine, vamm, position_registry, deployment_block
		FROM market_contracts WHERE market_id = $1`

	c, err := scanContracts(s.pool.QueryRow(ctx, query, marketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Contracts{}, fmt.Errorf("postgres: contracts for %s: %w", marketID, domain.ErrNotFound)
		}
		return domain.Contracts{}, fmt.Errorf("postgres: get contracts %s: %w", marketID, err)
	}
	return c, nil
}

// List returns every market that has a contracts row, ordered by slug.
func (s *MarketStore) List(ctx context.Context) ([]domain.Market, error) {
	query := `
		SELECT ` + marketSelectCols + `,
			c.chain_id, c.engine, c.vamm, c.position_registry, c.deployment_block
		FROM markets m
		JOIN market_contracts c ON c.market_id = m.id
		ORDER BY m.slug`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		var (
			m                        domain.Market
			engine, vamm, registry   string
			chainID, deploymentBlock int64
		)
		if err := rows.Scan(
			&m.ID, &m.Slug, &m.Name, &m.Description, &m.Category, &m.ImageURL,
			&chainID, &engine, &vamm, &registry, &deploymentBlock,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		m.Contracts = contractsFromRow(chainID, engine, vamm, registry, deploymentBlock)
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Upsert writes both the metadata and the contracts row in one transaction.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin upsert market %s: %w", m.Slug, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsertMarket = `
		INSERT INTO markets (id, slug, name, description, category, image_url, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			image_url = EXCLUDED.image_url,
			updated_at = NOW()`
	if _, err := tx.Exec(ctx, upsertMarket,
		m.ID, m.Slug, m.Name, m.Description, m.Category, m.ImageURL,
	); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.Slug, err)
	}

	const upsertContracts = `
		INSERT INTO market_contracts (market_id, chain_id, engine, vamm, position_registry, deployment_block, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (market_id) DO UPDATE SET
			chain_id = EXCLUDED.chain_id,
			engine = EXCLUDED.engine,
			vamm = EXCLUDED.vamm,
			position_registry = EXCLUDED.position_registry,
			deployment_block = EXCLUDED.deployment_block,
			updated_at = NOW()`
	c := m.Contracts
	if _, err := tx.Exec(ctx, upsertContracts,
		m.ID, c.ChainID, c.Engine.Hex(), c.VAMM.Hex(), c.PositionRegistry.Hex(), int64(c.DeploymentBlock),
	); err != nil {
		return fmt.Errorf("postgres: upsert contracts %s: %w", m.Slug, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit market %s: %w", m.Slug, err)
	}
	return nil
}

func scanContracts(row pgx.Row) (domain.Contracts, error) {
	var (
		engine, vamm, registry   string
		chainID, deploymentBlock int64
	)
	if err := row.Scan(&chainID, &engine, &vamm, &registry, &deploymentBlock); err != nil {
		return domain.Contracts{}, err
	}
	return contractsFromRow(chainID, engine, vamm, registry, deploymentBlock), nil
}

func contractsFromRow(chainID int64, engine, vamm, registry string, deploymentBlock int64) domain.Contracts {
	c := domain.Contracts{
		Engine:           common.HexToAddress(engine),
		VAMM:             common.HexToAddress(vamm),
		PositionRegistry: common.HexToAddress(registry),
		ChainID:          chainID,
	}
	if deploymentBlock > 0 {
		c.DeploymentBlock = uint64(deploymentBlock)
	}
	return c
}
