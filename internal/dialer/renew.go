package dialer

import (
	"context"
	"log"
	"time"
)

// startRenewalTimers runs the proactive renewal ticker and the staleness
// health check for one ready cycle. Both goroutines exit when the cycle's
// stop channel closes.
func (s *Session) startRenewalTimers(gen int, stop chan struct{}) {
	go func() {
		ticker := time.NewTicker(s.cfg.RenewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.renew(gen, TriggerInterval)
			case <-stop:
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(s.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.healthCheck(gen)
			case <-stop:
				return
			}
		}
	}()
}

func (s *Session) healthCheck(gen int) {
	s.mu.Lock()
	stale := gen == s.gen && s.state == StateReady && !s.lastRenewal.IsZero() &&
		time.Since(s.lastRenewal) > s.cfg.MaxTokenAge
	s.mu.Unlock()
	if stale {
		s.renew(gen, TriggerHealthCheck)
	}
}

// Renew asks for a fresh credential immediately. Used when a client reports
// regaining visibility after a long background period.
func (s *Session) Renew(trigger string) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.renew(gen, trigger)
}

// renew is the single convergence point for all four renewal triggers. A
// failed renewal is logged and swallowed; the endpoint keeps working on the
// old credential until the provider itself reports expiry.
func (s *Session) renew(gen int, trigger string) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateReady || s.renewing {
		s.mu.Unlock()
		return
	}
	s.renewing = true
	ep := s.endpoint
	s.mu.Unlock()
	s.notifyStatus()

	ctx, cancel := context.WithTimeout(context.Background(), renewRequestTimeout)
	defer cancel()

	cred, err := s.tokens.SignalingToken(ctx, s.workspaceID)
	if err == nil {
		err = ep.UpdateToken(ctx, cred.Token)
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.renewing = false
	if err == nil {
		s.credential = cred
		s.lastRenewal = time.Now().UTC()
	}
	s.mu.Unlock()

	if err != nil {
		log.Printf("dialer: token renewal failed (workspace=%s trigger=%s): %v", s.workspaceID, trigger, err)
		s.observeRenewal(trigger, "failure")
	} else {
		s.observeRenewal(trigger, "success")
	}
	s.notifyStatus()
}
