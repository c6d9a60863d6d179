package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pysugar/gemini-relay/internal/accounts"
	"github.com/pysugar/gemini-relay/internal/config"
	"github.com/pysugar/gemini-relay/internal/logging"
	"github.com/pysugar/gemini-relay/internal/upstream"
)

// sleepFn is context-aware and swapped out in tests so retry scenarios
// run instantly.
var sleepFn = func(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func credentialsOf(snap accounts.Snapshot) upstream.Credentials {
	return upstream.Credentials{
		PSID:    snap.PSID,
		PSIDTS:  snap.PSIDTS,
		Proxy:   snap.Proxy,
		Headers: snap.Headers,
	}
}

// openSession rotates to the next account and opens a session as it.
func openSession(ctx context.Context, mgr *accounts.Manager, opener upstream.Opener) (upstream.Session, accounts.Snapshot, error) {
	snap, err := mgr.Select(ctx)
	if err != nil {
		return nil, accounts.Snapshot{}, err
	}
	log.Printf("🔹 [%s] Using account: %s (calls: %d)", logging.GetRequestID(ctx), snap.Alias, snap.CallCount)

	session, err := opener.Open(ctx, credentialsOf(snap))
	if err != nil {
		if session != nil {
			session.Close()
		}
		return nil, snap, fmt.Errorf("session init failed for account %s: %w", snap.Alias, err)
	}
	return session, snap, nil
}

func closeSession(ctx context.Context, session upstream.Session) {
	if err := session.Close(); err != nil {
		log.Printf("⚠️ [%s] Failed to close upstream session: %v", logging.GetRequestID(ctx), err)
	}
}

// runImageExchange drives the bounded retry loop for image-capable
// exchanges. Each attempt acquires a fresh account and session so retries
// double as account-health fallback, and releases the session before the
// next attempt. Only recognized overload signatures are retried; every
// other failure surfaces immediately.
func runImageExchange(ctx context.Context, cfg *config.Config, mgr *accounts.Manager, opener upstream.Opener, prompt string, files []string) (*upstream.Reply, error) {
	requestID := logging.GetRequestID(ctx)
	var lastMsg string

	for attempt := 1; attempt <= cfg.RetryAttempts; attempt++ {
		reply, err := imageAttempt(ctx, mgr, opener, prompt, files)

		var msg string
		switch {
		case err != nil:
			if errors.Is(err, accounts.ErrNoAccountAvailable) {
				return nil, err
			}
			msg = err.Error()
		case len(reply.Images) > 0:
			return reply, nil
		case reply.Text != "":
			msg = reply.Text
		default:
			msg = "No image generated"
		}

		if !upstream.IsOverloaded(msg) {
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", upstream.ErrRejected, msg)
		}

		lastMsg = msg
		if attempt == cfg.RetryAttempts {
			break
		}
		log.Printf("⚠️ [%s] Rate limited (attempt %d/%d), retrying in %s", requestID, attempt, cfg.RetryAttempts, cfg.RetryDelay)
		sleepFn(ctx, cfg.RetryDelay)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	log.Printf("❌ [%s] Exchange failed after %d attempts", requestID, cfg.RetryAttempts)
	return nil, upstream.ExhaustedError(cfg.RetryAttempts, lastMsg)
}

// imageAttempt is one pass of the retry state machine: fresh account,
// fresh session, one exchange, session released whatever happens.
func imageAttempt(ctx context.Context, mgr *accounts.Manager, opener upstream.Opener, prompt string, files []string) (*upstream.Reply, error) {
	session, _, err := openSession(ctx, mgr, opener)
	if err != nil {
		return nil, err
	}
	defer closeSession(ctx, session)

	return session.Exchange(ctx, prompt, files, true)
}
