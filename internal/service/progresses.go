package service

import (
	"context"
	"fmt"

	"github.com/guild-achievements/internal/docstore"
	"github.com/guild-achievements/internal/domain"
)

// Progresses manages the per-member progress entries of one achievement,
// stored under <community>.<member>.progresses
type Progresses struct {
	achievement *Achievement
}

func (p *Progresses) key(memberID string) string {
	return memberKey(p.achievement.CommunityID, memberID, "progresses")
}

// Set writes value as the member's progress, creating the entry when absent
func (p *Progresses) Set(ctx context.Context, memberID string, value int) (domain.ProgressEntry, error) {
	if err := validateMemberID(memberID); err != nil {
		return domain.ProgressEntry{}, err
	}

	a := p.achievement
	entry := domain.ProgressEntry{
		AchievementID:   a.ID,
		AchievementName: a.Name,
		Progress:        value,
	}

	_, err := a.service.store.Update(ctx, p.key(memberID), func(current any, _ bool) (any, error) {
		entries, err := decodeProgresses(current)
		if err != nil {
			return nil, err
		}
		if i := progressIndex(entries, a.ID); i != -1 {
			entries[i].Progress = value
			entry = entries[i]
			return entries, nil
		}
		return append(entries, entry), nil
	})
	if err != nil {
		return domain.ProgressEntry{}, fmt.Errorf("setting progress: %w", err)
	}
	return entry, nil
}

// Reset sets the member's existing progress back to 0
func (p *Progresses) Reset(ctx context.Context, memberID string) (domain.ProgressEntry, error) {
	if err := validateMemberID(memberID); err != nil {
		return domain.ProgressEntry{}, err
	}

	a := p.achievement
	var entry domain.ProgressEntry

	_, err := a.service.store.Update(ctx, p.key(memberID), func(current any, _ bool) (any, error) {
		entries, err := decodeProgresses(current)
		if err != nil {
			return nil, err
		}
		i := progressIndex(entries, a.ID)
		if i == -1 {
			return nil, domain.AchievementNotFound("progress", a.ID, memberID)
		}
		entries[i].Progress = 0
		entry = entries[i]
		return entries, nil
	})
	if err != nil {
		return domain.ProgressEntry{}, err
	}
	return entry, nil
}

// Get returns the member's progress, or a zero entry when none was recorded
func (p *Progresses) Get(ctx context.Context, memberID string) (domain.ProgressEntry, error) {
	entries, err := p.All(ctx, memberID)
	if err != nil {
		return domain.ProgressEntry{}, err
	}

	a := p.achievement
	if i := progressIndex(entries, a.ID); i != -1 {
		return entries[i], nil
	}
	return domain.ProgressEntry{AchievementID: a.ID, AchievementName: a.Name, Progress: 0}, nil
}

// Delete removes the member's progress entry
func (p *Progresses) Delete(ctx context.Context, memberID string) (domain.ProgressEntry, error) {
	if err := validateMemberID(memberID); err != nil {
		return domain.ProgressEntry{}, err
	}

	a := p.achievement
	var entry domain.ProgressEntry

	_, err := a.service.store.Update(ctx, p.key(memberID), func(current any, _ bool) (any, error) {
		entries, err := decodeProgresses(current)
		if err != nil {
			return nil, err
		}
		i := progressIndex(entries, a.ID)
		if i == -1 {
			return nil, domain.AchievementNotFound("progress", a.ID, memberID)
		}
		entry = entries[i]
		return append(entries[:i], entries[i+1:]...), nil
	})
	if err != nil {
		return domain.ProgressEntry{}, err
	}
	return entry, nil
}

// All returns every progress entry of the member across achievements
func (p *Progresses) All(ctx context.Context, memberID string) ([]domain.ProgressEntry, error) {
	if err := validateMemberID(memberID); err != nil {
		return nil, err
	}
	entries, _, err := docstore.FetchAs[[]domain.ProgressEntry](ctx, p.achievement.service.store, p.key(memberID))
	if err != nil {
		return nil, fmt.Errorf("loading progresses: %w", err)
	}
	if entries == nil {
		entries = []domain.ProgressEntry{}
	}
	return entries, nil
}

// MemberProgresses returns every progress entry the member has in the community
func (s *AchievementService) MemberProgresses(ctx context.Context, communityID, memberID string) ([]domain.ProgressEntry, error) {
	if err := validateID("community_id", communityID); err != nil {
		return nil, err
	}
	return s.wrap(domain.AchievementRecord{CommunityID: communityID}).Progresses.All(ctx, memberID)
}

func decodeProgresses(value any) ([]domain.ProgressEntry, error) {
	if value == nil {
		return []domain.ProgressEntry{}, nil
	}
	return docstore.Decode[[]domain.ProgressEntry](value)
}

func progressIndex(entries []domain.ProgressEntry, achievementID int) int {
	for i, e := range entries {
		if e.AchievementID == achievementID {
			return i
		}
	}
	return -1
}
