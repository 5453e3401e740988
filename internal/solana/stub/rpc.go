package stub

import (
	"context"
	"sync"

	"github.com/martacalvinho/squares2/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu           sync.RWMutex
	Transactions map[string]*solana.Transaction
	Statuses     map[string]*solana.SignatureStatus
	Slot         int64
	Err          error // returned by every call when set
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions: make(map[string]*solana.Transaction),
		Statuses:     make(map[string]*solana.SignatureStatus),
	}
}

// GetTransaction retrieves a transaction by signature from the stub store.
// Unknown signatures yield nil, like the real endpoint.
func (c *RPCClient) GetTransaction(_ context.Context, signature string, _ solana.Commitment) (*solana.Transaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Err != nil {
		return nil, c.Err
	}
	return c.Transactions[signature], nil
}

// GetSignatureStatuses retrieves statuses from the stub store.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Err != nil {
		return nil, c.Err
	}
	result := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		result[i] = c.Statuses[sig]
	}
	return result, nil
}

// GetSlot returns the configured slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Slot, c.Err
}

// AddTransfer stores a confirmed transaction moving lamports from payer to recipient.
func (c *RPCClient) AddTransfer(signature, payer, recipient string, lamports uint64) {
	const fee = 5000
	start := lamports + 10*solana.LamportsPerSOL

	c.AddTransaction(&solana.Transaction{
		Slot:      1,
		Signature: signature,
		Meta: &solana.TransactionMeta{
			Fee:          fee,
			PreBalances:  []uint64{start, 0},
			PostBalances: []uint64{start - lamports - fee, lamports},
		},
		Message: &solana.TransactionMessage{
			AccountKeys: []string{payer, recipient},
		},
	})
	c.SetStatus(signature, &solana.SignatureStatus{Slot: 1, ConfirmationStatus: solana.CommitmentFinalized})
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// SetStatus sets the status reported for a signature.
func (c *RPCClient) SetStatus(signature string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[signature] = status
}

// SetError makes every call fail with err (nil clears it).
func (c *RPCClient) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Err = err
}

// Verify interface compliance at compile time.
var _ solana.RPCClient = (*RPCClient)(nil)
