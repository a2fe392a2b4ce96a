package service

import "context"

// TransactionManager runs fn inside one database transaction carried by ctx.
// A call made while ctx already holds a transaction joins it, so an order
// transition, its coupon redemption and its outbox message commit together.
// Audit writes never go through it.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
