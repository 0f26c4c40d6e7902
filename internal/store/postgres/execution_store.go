package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore over the executions table.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore backed by pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionSelectCols = `id, action, market, user_address, path, tx_hash,
	position_id, realized_pnl, status, error_kind, error_code, error_message,
	block, gas_used, created_at`

// Record inserts res, or updates status and outcome fields when a row with the
// same id exists (a pending result later confirmed).
func (s *ExecutionStore) Record(ctx context.Context, res domain.ExecutionResult) error {
	const query = `
		INSERT INTO executions (
			id, action, market, user_address, path, tx_hash,
			position_id, realized_pnl, status, error_kind, error_code, error_message,
			block, gas_used, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			tx_hash = EXCLUDED.tx_hash,
			position_id = COALESCE(EXCLUDED.position_id, executions.position_id),
			realized_pnl = COALESCE(EXCLUDED.realized_pnl, executions.realized_pnl),
			status = EXCLUDED.status,
			error_kind = EXCLUDED.error_kind,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			block = EXCLUDED.block,
			gas_used = EXCLUDED.gas_used,
			updated_at = NOW()`

	var errKind, errCode, errMsg *string
	if res.Error != nil {
		k, c, m := string(res.Error.Kind), res.Error.Code, res.Error.Message
		errKind, errCode, errMsg = &k, &c, &m
	}
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		res.ID, res.Action, res.Market, strings.ToLower(res.User.Hex()),
		string(res.Path), txHashText(res.TxHash),
		bigToText(res.PositionID), bigToText(res.RealizedPnL),
		string(res.Status), errKind, errCode, errMsg,
		int64(res.Block), int64(res.GasUsed), createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record execution %s: %w", res.ID, err)
	}
	return nil
}

// ListByUser returns a user's executions, newest first.
func (s *ExecutionStore) ListByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.ExecutionResult, error) {
	query := `SELECT ` + executionSelectCols + ` FROM executions WHERE user_address = $1`
	args := []any{strings.ToLower(user)}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions for %s: %w", user, err)
	}
	defer rows.Close()
	return scanExecutionRows(rows)
}

// ListBefore returns executions created strictly before the cutoff, oldest
// first. Used by the journal export.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error) {
	query := `SELECT ` + executionSelectCols + ` FROM executions WHERE created_at < $1 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return scanExecutionRows(rows)
}

func scanExecutionRows(rows pgx.Rows) ([]domain.ExecutionResult, error) {
	var out []domain.ExecutionResult
	for rows.Next() {
		var (
			r                        domain.ExecutionResult
			user, path, txHash       string
			status                   string
			positionID, realizedPnL  *string
			errKind, errCode, errMsg *string
			block, gasUsed           int64
		)
		if err := rows.Scan(
			&r.ID, &r.Action, &r.Market, &user, &path, &txHash,
			&positionID, &realizedPnL, &status, &errKind, &errCode, &errMsg,
			&block, &gasUsed, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		r.User = common.HexToAddress(user)
		r.Path = domain.PathKind(path)
		r.TxHash = common.HexToHash(txHash)
		r.PositionID = textToBig(positionID)
		r.RealizedPnL = textToBig(realizedPnL)
		r.Status = domain.ExecutionStatus(status)
		r.Block = uint64(block)
		r.GasUsed = uint64(gasUsed)
		if errCode != nil {
			r.Error = &domain.TradeError{Code: *errCode}
			if errKind != nil {
				r.Error.Kind = domain.ErrorKind(*errKind)
			}
			if errMsg != nil {
				r.Error.Message = *errMsg
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: executions rows: %w", err)
	}
	return out, nil
}

func bigToText(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func textToBig(s *string) *big.Int {
	if s == nil || *s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil
	}
	return v
}

func txHashText(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}
