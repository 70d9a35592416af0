package chain

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

// TrackOutcome is the terminal result of confirmation tracking.
type TrackOutcome int

const (
	// TrackConfirmed means the ledger confirmed the signature.
	TrackConfirmed TrackOutcome = iota
	// TrackFailed means the signature carries an on-chain error or never
	// confirmed within the wait window.
	TrackFailed
)

// Tracker polls confirmation status for a broadcast signature. A signature
// that fails is never retried; the caller rebuilds with a fresh blockhash and
// resubmits.
type Tracker struct {
	Ledger   Ledger
	Interval time.Duration
	Timeout  time.Duration
}

// Track polls until the signature confirms, fails on chain, or the wait
// window elapses. An unconfirmed transaction against an expired blockhash can
// never later confirm, so a timeout is terminal and reported as
// ErrConfirmationTimeout.
func (t Tracker) Track(ctx context.Context, sig solana.Signature) (TrackOutcome, error) {
	interval := t.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state, err := t.Ledger.SignatureStatus(ctx, sig)
		if err == nil {
			switch state {
			case StateConfirmed:
				return TrackConfirmed, nil
			case StateFailed:
				return TrackFailed, nil
			}
		} else if ctx.Err() != nil {
			return TrackFailed, ErrConfirmationTimeout
		}

		select {
		case <-ctx.Done():
			return TrackFailed, ErrConfirmationTimeout
		case <-ticker.C:
		}
	}
}
