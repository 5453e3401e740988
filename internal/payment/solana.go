package payment

import (
	"context"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/exchange"
	"github.com/martacalvinho/squares2/internal/observability"
	"github.com/martacalvinho/squares2/internal/solana"
)

// Default Solana processor settings.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultSlippage     = 0.02
)

// SolanaOptions configures SolanaProcessor.
type SolanaOptions struct {
	RPC          solana.RPCClient
	WS           solana.WSClient // optional fast path for confirmation
	Rates        exchange.Source
	Recipient    string // wallet receiving contributions
	Commitment   solana.Commitment
	Slippage     float64 // tolerated shortfall against the quoted lamports, 0..1
	PollInterval time.Duration
	Clock        clock.WithTicker
}

// SolanaProcessor verifies SOL transfers to the recipient wallet.
// The client signs and sends the transfer; Pay waits for it to confirm and
// checks it pays at least the contribution at the current rate.
type SolanaProcessor struct {
	rpc          solana.RPCClient
	ws           solana.WSClient
	rates        exchange.Source
	recipient    string
	commitment   solana.Commitment
	slippage     float64
	pollInterval time.Duration
	clock        clock.WithTicker
	logger       *log.Entry
}

// NewSolanaProcessor creates a SolanaProcessor.
func NewSolanaProcessor(opts SolanaOptions) *SolanaProcessor {
	if opts.Commitment == "" {
		opts.Commitment = solana.CommitmentConfirmed
	}
	if opts.Slippage <= 0 || opts.Slippage >= 1 {
		opts.Slippage = DefaultSlippage
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	return &SolanaProcessor{
		rpc:          opts.RPC,
		ws:           opts.WS,
		rates:        opts.Rates,
		recipient:    opts.Recipient,
		commitment:   opts.Commitment,
		slippage:     opts.Slippage,
		pollInterval: opts.PollInterval,
		clock:        opts.Clock,
		logger:       log.WithField("component", "payment"),
	}
}

// Pay confirms the transfer named by req.Proof and verifies it.
func (p *SolanaProcessor) Pay(ctx context.Context, req Request) (*domain.Receipt, error) {
	start := p.clock.Now()
	receipt, err := p.pay(ctx, req)

	result := "ok"
	if err != nil {
		result = "failed"
		if ctx.Err() != nil {
			result = "timeout"
		}
	}
	observability.RecordPayment(result, p.clock.Since(start).Seconds())
	return receipt, err
}

// Ping checks that the RPC node answers.
func (p *SolanaProcessor) Ping(ctx context.Context) error {
	if _, err := p.rpc.GetSlot(ctx); err != nil {
		return fmt.Errorf("get slot: %w", err)
	}
	return nil
}

func (p *SolanaProcessor) pay(ctx context.Context, req Request) (*domain.Receipt, error) {
	quote := p.rates.Rate(ctx)
	required := RequiredLamports(req.Amount, quote.USDPerSOL, p.slippage)

	logger := p.logger.WithFields(log.Fields{
		"signature": req.Proof,
		"payer":     req.Payer,
		"amount":    req.Amount.String(),
		"lamports":  required,
	})
	logger.Debug("confirming payment")

	if err := p.confirm(ctx, req.Proof); err != nil {
		return nil, err
	}

	tx, err := p.rpc.GetTransaction(ctx, req.Proof, p.commitment)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if tx == nil {
		return nil, ErrNotConfirmed
	}

	received, err := p.verify(tx, req.Payer, required)
	if err != nil {
		logger.WithError(err).Warn("payment rejected")
		return nil, err
	}

	logger.WithField("received", received).Info("payment confirmed")
	return &domain.Receipt{
		Reference:   req.Proof,
		Lamports:    received,
		Rate:        quote.USDPerSOL,
		ConfirmedAt: p.clock.Now(),
	}, nil
}

// confirm waits for signature to reach the configured commitment.
// A WebSocket notification wins when available; status polling always runs.
func (p *SolanaProcessor) confirm(ctx context.Context, signature string) error {
	var notifications <-chan solana.SignatureNotification
	if p.ws != nil {
		ch, err := p.ws.SubscribeSignature(ctx, signature, p.commitment)
		if err != nil {
			p.logger.WithError(err).Debug("signature subscription unavailable, polling")
		} else {
			notifications = ch
		}
	}

	ticker := p.clock.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		done, err := p.poll(ctx, signature)
		if done || err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case notif, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			if notif.Err != nil {
				return fmt.Errorf("%w: %v", ErrTransactionFailed, notif.Err)
			}
			return nil
		case <-ticker.C():
		}
	}
}

func (p *SolanaProcessor) poll(ctx context.Context, signature string) (bool, error) {
	statuses, err := p.rpc.GetSignatureStatuses(ctx, []string{signature})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		p.logger.WithError(err).Debug("signature status poll failed")
		return false, nil
	}
	if len(statuses) == 0 || statuses[0] == nil {
		return false, nil
	}

	status := statuses[0]
	if status.Err != nil {
		return true, fmt.Errorf("%w: %v", ErrTransactionFailed, status.Err)
	}
	return status.ConfirmationStatus.Satisfies(p.commitment), nil
}

func (p *SolanaProcessor) verify(tx *solana.Transaction, payer string, required uint64) (uint64, error) {
	if tx.Failed() {
		return 0, fmt.Errorf("%w: %v", ErrTransactionFailed, tx.Meta.Err)
	}
	if tx.FeePayer() != payer {
		return 0, fmt.Errorf("%w: signed by %s", ErrWrongPayer, tx.FeePayer())
	}

	delta, ok := tx.BalanceDelta(p.recipient)
	if !ok || delta <= 0 {
		return 0, ErrWrongRecipient
	}
	if uint64(delta) < required {
		return 0, fmt.Errorf("%w: got %d lamports, need %d", ErrInsufficientAmount, delta, required)
	}
	return uint64(delta), nil
}

// RequiredLamports converts amount to lamports at usdPerSOL, less the slippage tolerance.
func RequiredLamports(amount domain.Cents, usdPerSOL, slippage float64) uint64 {
	if amount <= 0 || usdPerSOL <= 0 {
		return 0
	}
	sol := amount.Float() / usdPerSOL
	return uint64(math.Floor(sol * solana.LamportsPerSOL * (1 - slippage)))
}

// QuoteLamports converts amount to the lamports a client should send at usdPerSOL.
func QuoteLamports(amount domain.Cents, usdPerSOL float64) uint64 {
	if amount <= 0 || usdPerSOL <= 0 {
		return 0
	}
	return uint64(math.Ceil(amount.Float() / usdPerSOL * solana.LamportsPerSOL))
}

// Verify interface compliance at compile time.
var _ Processor = (*SolanaProcessor)(nil)
