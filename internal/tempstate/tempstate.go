// Package tempstate holds the short-lived state that has to survive a round
// trip through the submitter's browser or inbox: the (host, referrer) pair
// behind a CAPTCHA challenge and the first submission of an unconfirmed form.
//
// Both live in the ephemeral store under a random nonce, expire on their own
// and are read at most once.
package tempstate

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/formrelay/formrelay/internal/domain"
	"github.com/formrelay/formrelay/internal/kv"
)

const (
	hostPrefix    = "host_nonce_"
	pendingPrefix = "pending_"
)

// HostNonces remembers which host a challenged submission came from, so the
// post-challenge request does not depend on the browser resending Referer.
type HostNonces struct {
	KV  kv.Store
	TTL time.Duration
}

type hostEntry struct {
	Host     string `json:"host"`
	Referrer string `json:"referrer"`
}

// Put stores (host, referrer) and returns the nonce to embed in the
// challenge page.
func (h *HostNonces) Put(ctx context.Context, host, referrer string) (string, error) {
	nonce := uuid.NewString()
	b, err := json.Marshal(hostEntry{Host: host, Referrer: referrer})
	if err != nil {
		return "", err
	}
	if err := h.KV.Set(ctx, hostPrefix+nonce, string(b), h.TTL); err != nil {
		return "", err
	}
	return nonce, nil
}

// Take returns and forgets the pair stored under nonce. ok is false when the
// nonce is unknown or expired.
func (h *HostNonces) Take(ctx context.Context, nonce string) (host, referrer string, ok bool, err error) {
	if nonce == "" {
		return "", "", false, nil
	}
	raw, err := h.KV.GetDel(ctx, hostPrefix+nonce)
	if err != nil || raw == "" {
		return "", "", false, err
	}
	var e hostEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return "", "", false, err
	}
	return e.Host, e.Referrer, true, nil
}

// PendingReplay is the first submission to a form whose email is not yet
// confirmed, kept until the confirmation link is clicked.
type PendingReplay struct {
	Nonce     string        `json:"-"`
	Fields    domain.Fields `json:"fields"`
	Host      string        `json:"host"`
	Referrer  string        `json:"referrer"`
	WantsJSON bool          `json:"wants_json"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// PendingReplays stores PendingReplay values. Consume is single-shot: the
// second call for the same nonce reports ok=false and is not an error. There
// is no lock between Stash and Consume; a lost or expired replay is accepted.
type PendingReplays struct {
	KV  kv.Store
	TTL time.Duration
	Now func() time.Time
}

func (p *PendingReplays) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Stash saves r under r.Nonce, replacing anything stored there.
func (p *PendingReplays) Stash(ctx context.Context, r PendingReplay) error {
	if r.Nonce == "" {
		return errors.New("tempstate: empty nonce")
	}
	r.ExpiresAt = p.now().Add(p.TTL).UTC()
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return p.KV.Set(ctx, pendingPrefix+r.Nonce, string(b), p.TTL)
}

// Consume returns the replay stored under nonce and removes it.
func (p *PendingReplays) Consume(ctx context.Context, nonce string) (PendingReplay, bool, error) {
	if nonce == "" {
		return PendingReplay{}, false, nil
	}
	raw, err := p.KV.GetDel(ctx, pendingPrefix+nonce)
	if err != nil || raw == "" {
		return PendingReplay{}, false, err
	}
	var r PendingReplay
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return PendingReplay{}, false, err
	}
	if !r.ExpiresAt.IsZero() && p.now().After(r.ExpiresAt) {
		return PendingReplay{}, false, nil
	}
	r.Nonce = nonce
	return r, true, nil
}
