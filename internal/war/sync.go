package war

import (
	"context"
	"fmt"

	"warchest.org/internal/audit"
	"warchest.org/internal/obs"
)

func obsWarn(sessionID string, err error) {
	obs.LogEvent(map[string]any{
		"level":   "warn",
		"msg":     "final roster refresh failed, completing anyway",
		"session": sessionID,
		"error":   err.Error(),
	})
}

// Syncer imports roster activity from the external snapshot provider into a
// session. Only this glue talks upstream; the payout engine reads stored
// member rows exclusively.
type Syncer struct {
	svc      *Service
	provider ActivityProvider
}

// NewSyncer wires a lifecycle service to an activity provider.
func NewSyncer(svc *Service, provider ActivityProvider) *Syncer {
	return &Syncer{svc: svc, provider: provider}
}

// Refresh pulls the current roster for a faction and upserts every line into
// the session. Returns the number of members touched.
func (s *Syncer) Refresh(ctx context.Context, sessionID string, factionID int64, credential string, actor int64) (int, error) {
	stats, err := s.provider.Roster(ctx, factionID, credential)
	if err != nil {
		s.svc.auditBestEffort(ctx, audit.ActionUpstreamError, actor, sessionID, "", "",
			"roster fetch failed: "+err.Error())
		return 0, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	updated := 0
	for _, stat := range stats {
		if _, err := s.svc.UpsertMember(ctx, sessionID, stat); err != nil {
			return updated, err
		}
		updated++
	}
	s.svc.auditBestEffort(ctx, audit.ActionMembersRefreshed, actor, sessionID, "", "",
		fmt.Sprintf("refreshed %d members from upstream", updated))
	return updated, nil
}

// CreateFromLatestWar opens a session seeded from the provider's latest
// ranked war report: war window, opposing faction and initial roster.
func (s *Syncer) CreateFromLatestWar(ctx context.Context, p CreateSessionParams, credential string) (*Session, error) {
	summary, err := s.provider.LatestWarSummary(ctx, p.FactionID, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	p.RankedWarID = summary.RankedWarID
	p.OpposingFaction = summary.OpposingFaction
	p.WarStart = summary.Start
	p.WarEnd = summary.End

	sess, err := s.svc.CreateSession(ctx, p)
	if err != nil {
		return nil, err
	}
	for _, stat := range summary.Members {
		if _, err := s.svc.UpsertMember(ctx, sess.ID, stat); err != nil {
			return sess, err
		}
	}
	return sess, nil
}

// FinalSync refreshes the roster one last time and completes the session.
// A failed refresh is logged and completion proceeds, matching operator
// expectations: a dead upstream must not block closing the books.
func (s *Syncer) FinalSync(ctx context.Context, sessionID string, factionID int64, credential string, actor int64) (*Session, error) {
	if credential != "" {
		if _, err := s.Refresh(ctx, sessionID, factionID, credential, actor); err != nil {
			obsWarn(sessionID, err)
		}
	}
	return s.svc.CompleteSession(ctx, sessionID, actor)
}
