package postgres

import (
	"context"
	"fmt"

	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransactionRepository implements payment.TransactionRepository. Rows are
// never updated.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func (r *TransactionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *TransactionRepository) Append(ctx context.Context, tx *payment.Transaction) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO payment_transactions
		 (id, order_id, gateway, kind, gateway_order_ref, payment_ref, signature, payload_hash, amount, verified, source, received_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		tx.ID, tx.OrderID, tx.Gateway, string(tx.Kind), tx.GatewayOrderRef, tx.PaymentRef, tx.Signature,
		tx.PayloadHash, tx.Amount, tx.Verified, string(tx.Source), tx.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*payment.Transaction, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, order_id, gateway, kind, gateway_order_ref, payment_ref, signature, payload_hash, amount, verified, source, received_at
		 FROM payment_transactions WHERE order_id = $1 ORDER BY received_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payment transactions: %w", err)
	}
	defer rows.Close()

	var txs []*payment.Transaction
	for rows.Next() {
		tx := &payment.Transaction{}
		var kind, source string
		if err := rows.Scan(&tx.ID, &tx.OrderID, &tx.Gateway, &kind, &tx.GatewayOrderRef, &tx.PaymentRef, &tx.Signature,
			&tx.PayloadHash, &tx.Amount, &tx.Verified, &source, &tx.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan payment transaction: %w", err)
		}
		tx.Kind = payment.EventKind(kind)
		tx.Source = payment.Source(source)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
