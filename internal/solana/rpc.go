package solana

import "context"

// RPCClient defines the Solana RPC HTTP calls used to confirm payments.
type RPCClient interface {
	// GetTransaction retrieves a transaction by signature.
	// Returns nil (and no error) if the transaction is not known at the commitment.
	GetTransaction(ctx context.Context, signature string, commitment Commitment) (*Transaction, error)

	// GetSignatureStatuses retrieves the status of each signature, nil entries for unknown ones.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (int64, error)
}

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err          interface{}
	Fee          uint64
	PreBalances  []uint64 // lamports per account key, before execution
	PostBalances []uint64 // lamports per account key, after execution
	LogMessages  []string
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys []string // AccountKeys[0] is the fee payer
}

// BalanceDelta returns the lamport change of account in the transaction.
// ok is false when the account is not part of the transaction.
func (tx *Transaction) BalanceDelta(account string) (delta int64, ok bool) {
	if tx.Meta == nil || tx.Message == nil {
		return 0, false
	}
	for i, key := range tx.Message.AccountKeys {
		if key != account {
			continue
		}
		if i >= len(tx.Meta.PreBalances) || i >= len(tx.Meta.PostBalances) {
			return 0, false
		}
		return int64(tx.Meta.PostBalances[i]) - int64(tx.Meta.PreBalances[i]), true
	}
	return 0, false
}

// FeePayer returns the first account key, the signer paying fees.
func (tx *Transaction) FeePayer() string {
	if tx.Message == nil || len(tx.Message.AccountKeys) == 0 {
		return ""
	}
	return tx.Message.AccountKeys[0]
}

// Failed reports whether the transaction executed with an error.
func (tx *Transaction) Failed() bool {
	return tx.Meta != nil && tx.Meta.Err != nil
}
