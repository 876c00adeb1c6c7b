package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attend/internal/debounce"
	"github.com/your-org/attend/internal/ledger"
	"github.com/your-org/attend/internal/matcher"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/observability"
	"github.com/your-org/attend/internal/vision"
)

// mergeIoU merges detector boxes that cover the same face.
const mergeIoU = 0.6

// matchLargest encodes the largest region of the tripped frame and compares
// it against a fresh enrollment snapshot.
func (c *Controller) matchLargest(ctx context.Context, t debounce.Trip) ([]models.MatchCandidate, error) {
	best, ok := t.Detection.Largest()
	if !ok {
		return nil, models.ErrNoFaceDetected
	}
	start := time.Now()
	enc, err := c.encode(t.Frame.Image, best)
	if err != nil {
		return nil, err
	}
	enrolled, err := c.deps.Enrolled.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot enrollment: %w", err)
	}
	cands, err := c.deps.Matcher.CompareOne(enrolled, enc)
	observability.InferenceDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())
	return cands, err
}

// encode crops and encodes one face. Any adapter failure counts as a failed
// encoding so a continuous session keeps scanning.
func (c *Controller) encode(img image.Image, box models.BBox) (models.Encoding, error) {
	enc, err := c.deps.Adapter.Encode(vision.CropFace(img, box))
	if err == nil {
		return enc, nil
	}
	if errors.Is(err, models.ErrEncodingFailed) {
		return nil, fmt.Errorf("encode face: %w", err)
	}
	return nil, fmt.Errorf("encode face: %v: %w", err, models.ErrEncodingFailed)
}

// absorb turns transient failures into status events. It returns the error
// unchanged when the session must end.
func (c *Controller) absorb(s *Session, err error) error {
	kind := models.KindOf(err)
	observability.MatchAttempts.WithLabelValues(string(s.Mode), string(kind)).Inc()

	transient := kind.Transient()
	if kind == models.ErrorKindEmptyEnrollmentSet && s.Mode == ModeCheckIn {
		transient = true
	}
	if !transient {
		return err
	}
	c.logger.Debug("match attempt skipped", "session_id", s.ID, "reason", kind, "error", err)
	c.emit(s, Event{Type: EventError, ErrorKind: kind, Message: err.Error()})
	return nil
}

func (c *Controller) handleSingle(ctx context.Context, s *Session, t debounce.Trip) (bool, error) {
	at := c.now()
	cands, err := c.matchLargest(ctx, t)
	if err != nil {
		return false, c.absorb(s, err)
	}

	switch len(cands) {
	case 0:
		c.unmatched(s, t)
		return false, nil
	case 1:
		observability.MatchAttempts.WithLabelValues(string(s.Mode), "matched").Inc()
		c.submit(ctx, s, at, []models.Identity{cands[0].Identity}, t.Frame.JPEG)
		return !*s.Options.KeepScanning, nil
	default:
		observability.MatchAttempts.WithLabelValues(string(s.Mode), "ambiguous").Inc()
		c.ambiguous(s, at, cands, t.Frame.JPEG, true)
		return false, nil
	}
}

func (c *Controller) handleMulti(ctx context.Context, s *Session, t debounce.Trip) (bool, error) {
	at := c.now()
	regions := vision.MergeOverlapping(t.Detection.Regions, mergeIoU)

	var encs []models.Encoding
	for _, r := range regions {
		enc, err := c.encode(t.Frame.Image, r)
		if err != nil {
			if aerr := c.absorb(s, err); aerr != nil {
				return false, aerr
			}
			continue
		}
		encs = append(encs, enc)
	}
	if len(encs) == 0 {
		return false, nil
	}

	enrolled, err := c.deps.Enrolled.Snapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("snapshot enrollment: %w", err)
	}
	groups, err := c.deps.Matcher.CompareEach(enrolled, encs)
	if err != nil {
		return false, c.absorb(s, err)
	}

	var unique []models.MatchCandidate
	anyMatch := false
	for _, g := range groups {
		switch len(g) {
		case 0:
		case 1:
			unique = append(unique, g[0])
		default:
			c.ambiguous(s, at, g, t.Frame.JPEG, true)
		}
		anyMatch = anyMatch || len(g) > 0
	}
	if !anyMatch {
		c.unmatched(s, t)
		return false, nil
	}
	if len(unique) == 0 {
		return false, nil
	}

	unique = matcher.Dedupe(unique)
	ids := make([]models.Identity, len(unique))
	for i, m := range unique {
		ids[i] = m.Identity
	}
	observability.MatchAttempts.WithLabelValues(string(s.Mode), "matched").Inc()
	c.submit(ctx, s, at, ids, t.Frame.JPEG)
	return !*s.Options.KeepScanning, nil
}

func (c *Controller) handleGated(ctx context.Context, s *Session, t debounce.Trip) (bool, error) {
	cands, err := c.matchLargest(ctx, t)
	if err != nil {
		return false, c.absorb(s, err)
	}

	switch {
	case len(cands) == 0:
		c.unmatched(s, t)
		return false, nil
	case len(cands) > 1:
		observability.MatchAttempts.WithLabelValues(string(s.Mode), "ambiguous").Inc()
		c.ambiguous(s, c.now(), cands, nil, false)
		return false, nil
	}

	matched := cands[0].Identity
	if target := s.Options.Target; target != nil && matched.ID != *target {
		observability.MatchAttempts.WithLabelValues(string(s.Mode), "denied").Inc()
		c.logger.Info("access denied", "session_id", s.ID, "matched", matched.ID, "target", *target)
		c.emit(s, Event{
			Type:          EventDenied,
			Message:       "denied: " + matched.Label(),
			FacesDetected: t.Detection.FaceCount,
			Matched:       []models.Identity{matched},
		})
		return false, nil
	}

	observability.MatchAttempts.WithLabelValues(string(s.Mode), "matched").Inc()
	outcome := models.AuthOutcome{SessionID: s.ID, Success: true, MatchedIdentity: &matched, Timestamp: c.now()}
	if s.setOutcome(outcome) {
		observability.AuthOutcomes.WithLabelValues("success").Inc()
	}
	c.logger.Info("access granted", "session_id", s.ID, "identity_id", matched.ID)
	c.setNotice("granted: " + matched.Label())
	c.emit(s, Event{Type: EventOutcome, State: StateResolved, Outcome: &outcome, Message: outcomeMessage(&outcome),
		Matched: []models.Identity{matched}})

	// Hold the result on screen; cancellation only shortens the hold.
	if c.cfg.AuthHold > 0 {
		timer := time.NewTimer(c.cfg.AuthHold)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return true, nil
}

func (c *Controller) unmatched(s *Session, t debounce.Trip) {
	observability.MatchAttempts.WithLabelValues(string(s.Mode), "unmatched").Inc()
	c.emit(s, Event{Type: EventUnmatched, Message: "unmatched", FacesDetected: t.Detection.FaceCount})
}

// ambiguous surfaces every candidate. Check-in sessions also park a
// resolution that a person can settle through Resolve.
func (c *Controller) ambiguous(s *Session, at time.Time, cands []models.MatchCandidate, jpeg []byte, resolvable bool) {
	names := make([]string, len(cands))
	for i, m := range cands {
		names[i] = m.Identity.Label()
	}
	ev := Event{
		Type:       EventAmbiguous,
		Ambiguous:  true,
		Candidates: cands,
		Message:    "ambiguous: " + strings.Join(names, ", "),
	}
	if resolvable {
		ev.ResolutionID = c.park(s, at, cands, jpeg)
	}
	c.logger.Info("ambiguous match", "session_id", s.ID, "candidates", len(cands), "resolution_id", ev.ResolutionID)
	c.emit(s, ev)
}

// submit hands the check-in to the writer. The result arrives as a
// checked_in event once it is persisted.
func (c *Controller) submit(ctx context.Context, s *Session, at time.Time, ids []models.Identity, jpeg []byte) {
	req := ledger.Request{
		At:          at,
		IdentityIDs: make([]uuid.UUID, len(ids)),
		Snapshot:    copyJPEG(jpeg),
		Schedule:    s.Options.DayParts,
		Done:        func(res []ledger.Result) { c.checkedIn(s, res) },
	}
	for i, id := range ids {
		req.IdentityIDs[i] = id.ID
	}
	if err := c.deps.Writer.Submit(context.WithoutCancel(ctx), req); err != nil {
		c.logger.Error("check-in not submitted", "session_id", s.ID, "identities", len(ids), "error", err)
		c.emit(s, Event{Type: EventError, ErrorKind: models.ErrorKindInternal, Message: err.Error(), Matched: ids})
	}
}

func (c *Controller) checkedIn(s *Session, res []ledger.Result) {
	var ok []ledger.Result
	var matched []models.Identity
	var names []string
	for _, r := range res {
		if r.Err != nil {
			c.emit(s, Event{Type: EventError, ErrorKind: models.KindOf(r.Err), Message: r.Err.Error()})
			continue
		}
		ok = append(ok, r)
		if r.Identity != nil {
			matched = append(matched, *r.Identity)
			names = append(names, r.Identity.Label())
		}
	}
	if len(ok) == 0 {
		return
	}
	msg := fmt.Sprintf("checked in (%s): %s", ok[0].Part, strings.Join(names, ", "))
	c.setNotice(msg)
	c.emit(s, Event{Type: EventCheckedIn, Message: msg, Matched: matched, CheckIns: ok})
}

func copyJPEG(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
