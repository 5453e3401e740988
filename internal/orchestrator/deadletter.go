package orchestrator

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/observability"
)

// DeadLetter appends journal entries that could not be written to the
// payment journal, one JSON object per line.
type DeadLetter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewDeadLetter creates a DeadLetter writing to w, usually a rotating
// lumberjack.Logger.
func NewDeadLetter(w io.Writer) *DeadLetter {
	return &DeadLetter{w: w}
}

type deadLetterLine struct {
	At     time.Time             `json:"at"`
	Error  string                `json:"error"`
	Record *domain.PaymentRecord `json:"record"`
}

// Write appends rec. A nil DeadLetter only logs.
func (d *DeadLetter) Write(rec *domain.PaymentRecord, cause error) {
	observability.RecordDeadLetter()

	logger := log.WithFields(log.Fields{
		"component":         "dead-letter",
		"payment_reference": rec.Reference,
		"payer":             rec.Payer,
		"amount":            rec.Amount.String(),
	})
	if d == nil || d.w == nil {
		logger.WithError(cause).Error("no dead-letter file configured, payment only in logs")
		return
	}

	line, err := json.Marshal(deadLetterLine{At: time.Now().UTC(), Error: cause.Error(), Record: rec})
	if err != nil {
		logger.WithError(err).Error("encode dead letter")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.w.Write(append(line, '\n')); err != nil {
		logger.WithError(err).Error("write dead letter")
		return
	}
	logger.Warn("payment written to dead-letter file")
}
