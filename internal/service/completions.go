package service

import (
	"context"
	"fmt"

	"github.com/guild-achievements/internal/docstore"
	"github.com/guild-achievements/internal/domain"
)

// Completions manages the per-member completion entries of one achievement,
// stored under <community>.<member>.completions
type Completions struct {
	achievement *Achievement
}

func (c *Completions) key(memberID string) string {
	return memberKey(c.achievement.CommunityID, memberID, "completions")
}

// Add records a completion for the member. An existing entry is returned unchanged.
func (c *Completions) Add(ctx context.Context, memberID string) (domain.CompletionEntry, error) {
	if err := validateMemberID(memberID); err != nil {
		return domain.CompletionEntry{}, err
	}

	a := c.achievement
	entry := domain.CompletionEntry{
		AchievementID: a.ID,
		Icon:          a.Icon,
		CommunityID:   a.CommunityID,
		MemberID:      memberID,
		CompletedAt:   a.service.timestamp(),
	}

	_, err := a.service.store.Update(ctx, c.key(memberID), func(current any, _ bool) (any, error) {
		entries, err := decodeCompletions(current)
		if err != nil {
			return nil, err
		}
		if i := completionIndex(entries, a.ID); i != -1 {
			entry = entries[i]
			return entries, nil
		}
		return append(entries, entry), nil
	})
	if err != nil {
		return domain.CompletionEntry{}, fmt.Errorf("adding completion: %w", err)
	}
	return entry, nil
}

// Get returns the member's completion entry
func (c *Completions) Get(ctx context.Context, memberID string) (domain.CompletionEntry, error) {
	entries, err := c.All(ctx, memberID)
	if err != nil {
		return domain.CompletionEntry{}, err
	}

	a := c.achievement
	i := completionIndex(entries, a.ID)
	if i == -1 {
		return domain.CompletionEntry{}, domain.AchievementNotFound("completion", a.ID, memberID)
	}
	return entries[i], nil
}

// Delete removes the member's completion entry
func (c *Completions) Delete(ctx context.Context, memberID string) (domain.CompletionEntry, error) {
	if err := validateMemberID(memberID); err != nil {
		return domain.CompletionEntry{}, err
	}

	a := c.achievement
	var entry domain.CompletionEntry

	_, err := a.service.store.Update(ctx, c.key(memberID), func(current any, _ bool) (any, error) {
		entries, err := decodeCompletions(current)
		if err != nil {
			return nil, err
		}
		i := completionIndex(entries, a.ID)
		if i == -1 {
			return nil, domain.AchievementNotFound("completion", a.ID, memberID)
		}
		entry = entries[i]
		return append(entries[:i], entries[i+1:]...), nil
	})
	if err != nil {
		return domain.CompletionEntry{}, err
	}
	return entry, nil
}

// All returns every completion entry of the member across achievements
func (c *Completions) All(ctx context.Context, memberID string) ([]domain.CompletionEntry, error) {
	if err := validateMemberID(memberID); err != nil {
		return nil, err
	}
	entries, _, err := docstore.FetchAs[[]domain.CompletionEntry](ctx, c.achievement.service.store, c.key(memberID))
	if err != nil {
		return nil, fmt.Errorf("loading completions: %w", err)
	}
	if entries == nil {
		entries = []domain.CompletionEntry{}
	}
	return entries, nil
}

// MemberCompletions returns every completion entry the member has in the community
func (s *AchievementService) MemberCompletions(ctx context.Context, communityID, memberID string) ([]domain.CompletionEntry, error) {
	if err := validateID("community_id", communityID); err != nil {
		return nil, err
	}
	return s.wrap(domain.AchievementRecord{CommunityID: communityID}).FinishedCompletions.All(ctx, memberID)
}

func decodeCompletions(value any) ([]domain.CompletionEntry, error) {
	if value == nil {
		return []domain.CompletionEntry{}, nil
	}
	return docstore.Decode[[]domain.CompletionEntry](value)
}

func completionIndex(entries []domain.CompletionEntry, achievementID int) int {
	for i, e := range entries {
		if e.AchievementID == achievementID {
			return i
		}
	}
	return -1
}
