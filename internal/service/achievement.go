package service

import (
	"context"
	"fmt"

	"github.com/guild-achievements/internal/domain"
)

// Achievement is a live achievement record bound to the service that loaded it
type Achievement struct {
	domain.AchievementRecord

	Progresses          *Progresses
	FinishedCompletions *Completions

	service *AchievementService
}

// Record returns a copy of the persisted form of the achievement
func (a *Achievement) Record() domain.AchievementRecord {
	record := a.AchievementRecord
	record.Completions = append([]domain.CompletionEntry{}, a.AchievementRecord.Completions...)
	return record
}

// IsCompleted reports whether memberID appears in the achievement's completions
func (a *Achievement) IsCompleted(memberID string) bool {
	for _, c := range a.AchievementRecord.Completions {
		if c.MemberID == memberID && c.AchievementID == a.ID {
			return true
		}
	}
	return false
}

// Grant completes the achievement for memberID. Granting twice is a no-op
// and reports false.
func (a *Achievement) Grant(ctx context.Context, memberID, channelID string) (bool, error) {
	if err := validateMemberID(memberID); err != nil {
		return false, err
	}

	s := a.service
	if err := s.observeMember(ctx, domain.Member{ID: memberID, CommunityID: a.CommunityID}); err != nil {
		return false, err
	}

	unlock := s.locks.Lock(a.CommunityID)
	defer unlock()

	if err := a.refresh(ctx); err != nil {
		return false, err
	}
	if a.IsCompleted(memberID) {
		return false, nil
	}

	completion, err := a.FinishedCompletions.Add(ctx, memberID)
	if err != nil {
		return false, err
	}
	a.AchievementRecord.Completions = append(a.AchievementRecord.Completions, completion)

	if _, err := a.Progresses.Set(ctx, memberID, 100); err != nil {
		return false, err
	}
	if err := a.update(ctx, true); err != nil {
		return false, err
	}

	s.logger.Info("achievement granted",
		"community_id", a.CommunityID,
		"achievement_id", a.ID,
		"member_id", memberID,
	)

	s.emitComplete(ctx, domain.CompletionEvent{
		CommunityID: a.CommunityID,
		MemberID:    memberID,
		ChannelID:   channelID,
		Achievement: a.Record(),
		Completion:  completion,
	})
	return true, nil
}

// Update persists the in-memory record over its stored copy, recomputing the
// completion percentage first when recompute is set
func (a *Achievement) Update(ctx context.Context, recompute bool) error {
	unlock := a.service.locks.Lock(a.CommunityID)
	defer unlock()

	return a.update(ctx, recompute)
}

// UpdateCompletionPercentage recomputes and persists the completion
// percentage of the stored record
func (a *Achievement) UpdateCompletionPercentage(ctx context.Context) error {
	return a.recompute(ctx)
}

// Delete removes the achievement from communityID, defaulting to its own community
func (a *Achievement) Delete(ctx context.Context, communityID string) error {
	if communityID == "" {
		communityID = a.CommunityID
	}
	_, err := a.service.Delete(ctx, a.ID, communityID)
	return err
}

// HandleProgressUpdate runs a progress update for member against every
// achievement of this achievement's community
func (a *Achievement) HandleProgressUpdate(ctx context.Context, metric domain.MetricType, payload domain.MetricPayload, member domain.Member, channelID string) error {
	if member.CommunityID == "" {
		member.CommunityID = a.CommunityID
	}
	return a.service.HandleProgressUpdate(ctx, metric, payload, member, channelID)
}

// HandleManyProgressUpdates runs each update in order
func (a *Achievement) HandleManyProgressUpdates(ctx context.Context, updates []domain.MetricUpdate, member domain.Member, channelID string) error {
	if member.CommunityID == "" {
		member.CommunityID = a.CommunityID
	}
	return a.service.HandleManyProgressUpdates(ctx, updates, member, channelID)
}

// update must be called with the community lock held
func (a *Achievement) update(ctx context.Context, recompute bool) error {
	s := a.service

	if recompute {
		percentage, err := s.completionPercentage(ctx, a.CommunityID, len(a.AchievementRecord.Completions))
		if err != nil {
			return err
		}
		a.CompletionPercentage = percentage
	}

	records, err := s.records(ctx, a.CommunityID)
	if err != nil {
		return err
	}
	index := indexOf(records, a.ID)
	if index == -1 {
		return domain.TargetNotFound(a.ID, a.CommunityID)
	}

	if _, err := s.store.Pull(ctx, achievementsKey(a.CommunityID), index, a.Record()); err != nil {
		return fmt.Errorf("updating achievement: %w", err)
	}
	return nil
}

// recompute reloads the stored record and persists its completion percentage
// under the community lock, so completions granted since the record was
// loaded are kept
func (a *Achievement) recompute(ctx context.Context) error {
	unlock := a.service.locks.Lock(a.CommunityID)
	defer unlock()

	if err := a.refresh(ctx); err != nil {
		return err
	}
	return a.update(ctx, true)
}

// refresh reloads the stored record so decisions are made on current data.
// It must be called with the community lock held.
func (a *Achievement) refresh(ctx context.Context) error {
	records, err := a.service.records(ctx, a.CommunityID)
	if err != nil {
		return err
	}
	index := indexOf(records, a.ID)
	if index == -1 {
		return domain.TargetNotFound(a.ID, a.CommunityID)
	}
	a.AchievementRecord = records[index]
	return nil
}
