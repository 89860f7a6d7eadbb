package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// ErrTxFailed wraps failures to start or commit a session transaction.
var ErrTxFailed = errors.New("mongo transaction failed")

// TxManager runs units of work inside a multi-document transaction. The
// session context handed to fn carries the session, so every collection
// call made with it joins the transaction. Requires a replica set running
// MongoDB 5.0 or later (see CheckServerVersion).
type TxManager struct {
	client *mongo.Client
}

func NewTxManager(client *mongo.Client) *TxManager {
	return &TxManager{client: client}
}

// WithinTx runs fn in a transaction. A call made with a context that
// already carries a session reuses it.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	sess, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: start session: %v", ErrTxFailed, err)
	}
	defer sess.EndSession(context.Background())

	var fnErr error
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		fnErr = fn(sc)
		return nil, fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTxFailed, err)
	}
	return nil
}
