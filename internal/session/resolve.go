package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/your-org/attend/internal/ledger"
	"github.com/your-org/attend/internal/models"
)

// pending is an ambiguous match waiting for a person to pick one candidate.
type pending struct {
	SessionID  uuid.UUID
	At         time.Time
	Candidates []models.MatchCandidate
	Snapshot   []byte
	Schedule   *models.DaySchedule
}

// Resolution is the public view of a pending ambiguous match.
type Resolution struct {
	ID         string                  `json:"id"`
	SessionID  uuid.UUID               `json:"session_id"`
	At         time.Time               `json:"at"`
	Candidates []models.MatchCandidate `json:"candidates"`
}

func (c *Controller) park(s *Session, at time.Time, cands []models.MatchCandidate, jpeg []byte) string {
	id := uuid.NewString()
	c.resolutions.Set(id, &pending{
		SessionID:  s.ID,
		At:         at,
		Candidates: cands,
		Snapshot:   copyJPEG(jpeg),
		Schedule:   s.Options.DayParts,
	}, cache.DefaultExpiration)
	return id
}

// Resolutions lists the ambiguous matches still waiting for a decision.
func (c *Controller) Resolutions() []Resolution {
	items := c.resolutions.Items()
	out := make([]Resolution, 0, len(items))
	for id, it := range items {
		p := it.Object.(*pending)
		out = append(out, Resolution{ID: id, SessionID: p.SessionID, At: p.At, Candidates: p.Candidates})
	}
	return out
}

// Resolve checks in the chosen candidate of a pending ambiguous match using
// the time the face was seen. Each resolution can be used once.
func (c *Controller) Resolve(ctx context.Context, resolutionID string, identityID uuid.UUID) (ledger.Result, error) {
	c.resolveMu.Lock()
	v, ok := c.resolutions.Get(resolutionID)
	if !ok {
		c.resolveMu.Unlock()
		return ledger.Result{}, ErrResolutionNotFound
	}
	p := v.(*pending)
	found := false
	for _, m := range p.Candidates {
		if m.Identity.ID == identityID {
			found = true
			break
		}
	}
	if !found {
		c.resolveMu.Unlock()
		return ledger.Result{}, fmt.Errorf("resolve %s with %s: %w", resolutionID, identityID, ErrNotACandidate)
	}
	// Claimed entries leave the cache so a second Resolve cannot reuse
	// them. Any failure before the ledger commits puts the entry back.
	c.resolutions.Delete(resolutionID)
	c.resolveMu.Unlock()

	var settled bool
	settle := func(ok bool) {
		c.resolveMu.Lock()
		defer c.resolveMu.Unlock()
		switch {
		case ok:
			c.resolutions.Delete(resolutionID)
		case !settled:
			c.resolutions.Set(resolutionID, p, cache.DefaultExpiration)
		}
		settled = true
	}

	done := make(chan []ledger.Result, 1)
	err := c.deps.Writer.Submit(ctx, ledger.Request{
		At:          p.At,
		IdentityIDs: []uuid.UUID{identityID},
		Snapshot:    p.Snapshot,
		Schedule:    p.Schedule,
		Done: func(r []ledger.Result) {
			settle(len(r) == 1 && r[0].Err == nil)
			done <- r
		},
	})
	if err != nil {
		settle(false)
		return ledger.Result{}, fmt.Errorf("submit resolution: %w", err)
	}

	select {
	case res := <-done:
		r := res[0]
		if r.Err != nil {
			return r, r.Err
		}
		c.logger.Info("ambiguous match resolved", "resolution_id", resolutionID, "identity_id", identityID)
		c.setNotice(fmt.Sprintf("checked in (%s): %s", r.Part, r.Identity.Label()))
		c.bus.publish(Event{
			Type:      EventCheckedIn,
			SessionID: p.SessionID,
			State:     c.Status().State,
			Message:   "resolved: " + r.Identity.Label(),
			Matched:   []models.Identity{*r.Identity},
			CheckIns:  res,
			Timestamp: c.now(),
		})
		return r, nil
	case <-ctx.Done():
		settle(false)
		return ledger.Result{}, ctx.Err()
	}
}
