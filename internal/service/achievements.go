package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/guild-achievements/internal/config"
	"github.com/guild-achievements/internal/docstore"
	"github.com/guild-achievements/internal/domain"
)

// Keys under a community that are not member IDs
const (
	achievementsField = "achievements"
	membersField      = "members"
)

// ProgressListener receives achievementProgress events
type ProgressListener func(ctx context.Context, event domain.ProgressEvent)

// CompletionListener receives achievementComplete events
type CompletionListener func(ctx context.Context, event domain.CompletionEvent)

// MemberCounter reports the size of a community for completion percentages
type MemberCounter interface {
	CountMembers(ctx context.Context, communityID string) (total, bots int, err error)
}

// AuditLog persists emitted achievement events
type AuditLog interface {
	RecordEvent(ctx context.Context, entry domain.AuditEntry) error
}

// AchievementService is the registry of achievements per community. It
// creates, lists and deletes achievements and turns member activity into
// progress updates and grants.
type AchievementService struct {
	store    *docstore.Manager
	config   *config.AchievementsConfig
	logger   *slog.Logger
	members  MemberCounter
	audit    AuditLog
	location *time.Location
	now      func() time.Time

	// serializes check-then-act on a community's achievement list
	locks *docstore.KeyedMutex

	listenersMu       sync.RWMutex
	nextListenerID    uint64
	progressListeners []progressListener
	completeListeners []completionListener
}

type progressListener struct {
	id uint64
	fn ProgressListener
}

type completionListener struct {
	id uint64
	fn CompletionListener
}

// Option configures an AchievementService
type Option func(*AchievementService)

// WithMemberCounter replaces the store-backed member directory as the source
// of community sizes
func WithMemberCounter(counter MemberCounter) Option {
	return func(s *AchievementService) {
		s.members = counter
	}
}

// WithAuditLog records every progress and completion event to log
func WithAuditLog(log AuditLog) Option {
	return func(s *AchievementService) {
		s.audit = log
	}
}

// WithClock overrides the time source used for created_at and completed_at
func WithClock(now func() time.Time) Option {
	return func(s *AchievementService) {
		s.now = now
	}
}

// NewAchievementService creates a new achievement service
func NewAchievementService(
	store *docstore.Manager,
	cfg *config.AchievementsConfig,
	logger *slog.Logger,
	opts ...Option,
) *AchievementService {
	s := &AchievementService{
		store:    store,
		config:   cfg,
		logger:   logger,
		location: time.Local,
		now:      time.Now,
		locks:    docstore.NewKeyedMutex(),
	}
	s.members = &memberDirectory{store: store}

	if cfg.Location != "" {
		if loc, err := time.LoadLocation(cfg.Location); err == nil {
			s.location = loc
		} else {
			logger.Warn("invalid achievements location, using local time", "location", cfg.Location, "error", err)
		}
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying document manager
func (s *AchievementService) Store() *docstore.Manager {
	return s.store
}

// Create validates input and appends a new achievement to the community
func (s *AchievementService) Create(ctx context.Context, communityID string, input domain.AchievementInput) (*Achievement, error) {
	if err := validateID("community_id", communityID); err != nil {
		return nil, err
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(communityID)
	defer unlock()

	records, err := s.records(ctx, communityID)
	if err != nil {
		return nil, err
	}

	nextID := 1
	for _, r := range records {
		if r.ID >= nextID {
			nextID = r.ID + 1
		}
	}

	record := domain.AchievementRecord{
		ID:                   nextID,
		CommunityID:          communityID,
		Name:                 input.Name,
		Description:          input.Description,
		Reward:               *input.Reward,
		Icon:                 input.Icon,
		TrackingTarget:       input.TrackingTarget,
		Completions:          []domain.CompletionEntry{},
		CompletionPercentage: 0,
		CreatedAt:            s.timestamp(),
		Custom:               input.Custom,
	}

	if _, err := s.store.Push(ctx, achievementsKey(communityID), record); err != nil {
		return nil, fmt.Errorf("creating achievement: %w", err)
	}

	s.logger.Info("achievement created",
		"community_id", communityID,
		"achievement_id", record.ID,
		"name", record.Name,
	)

	return s.wrap(record), nil
}

// CreateMany creates each input in order, stopping at the first failure
func (s *AchievementService) CreateMany(ctx context.Context, communityID string, inputs ...domain.AchievementInput) ([]*Achievement, error) {
	created := make([]*Achievement, 0, len(inputs))
	for i, input := range inputs {
		a, err := s.Create(ctx, communityID, input)
		if err != nil {
			return created, fmt.Errorf("creating achievement %d of %d: %w", i+1, len(inputs), err)
		}
		created = append(created, a)
	}
	return created, nil
}

// All returns every achievement of a community in stored order
func (s *AchievementService) All(ctx context.Context, communityID string) ([]*Achievement, error) {
	if err := validateID("community_id", communityID); err != nil {
		return nil, err
	}

	records, err := s.records(ctx, communityID)
	if err != nil {
		return nil, err
	}

	achievements := make([]*Achievement, 0, len(records))
	for _, r := range records {
		achievements = append(achievements, s.wrap(r))
	}
	return achievements, nil
}

// Get returns the achievement with id, or false when the community has none
func (s *AchievementService) Get(ctx context.Context, achievementID int, communityID string) (*Achievement, bool, error) {
	achievements, err := s.All(ctx, communityID)
	if err != nil {
		return nil, false, err
	}
	for _, a := range achievements {
		if a.ID == achievementID {
			return a, true, nil
		}
	}
	return nil, false, nil
}

// GetIndex returns the position of the achievement in the community list, or -1
func (s *AchievementService) GetIndex(ctx context.Context, achievementID int, communityID string) (int, error) {
	if err := validateID("community_id", communityID); err != nil {
		return -1, err
	}
	records, err := s.records(ctx, communityID)
	if err != nil {
		return -1, err
	}
	return indexOf(records, achievementID), nil
}

// Delete removes the achievement from its community
func (s *AchievementService) Delete(ctx context.Context, achievementID int, communityID string) (*Achievement, error) {
	if err := validateID("community_id", communityID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(communityID)
	defer unlock()

	records, err := s.records(ctx, communityID)
	if err != nil {
		return nil, err
	}

	index := indexOf(records, achievementID)
	if index == -1 {
		return nil, domain.TargetNotFound(achievementID, communityID)
	}

	if _, err := s.store.Pop(ctx, achievementsKey(communityID), index); err != nil {
		return nil, fmt.Errorf("deleting achievement: %w", err)
	}

	s.logger.Info("achievement deleted", "community_id", communityID, "achievement_id", achievementID)
	return s.wrap(records[index]), nil
}

// Search returns the achievements whose name fuzzily matches query, best match first.
// An empty query returns every achievement.
func (s *AchievementService) Search(ctx context.Context, communityID, query string) ([]*Achievement, error) {
	achievements, err := s.All(ctx, communityID)
	if err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return achievements, nil
	}

	names := make([]string, len(achievements))
	for i, a := range achievements {
		names[i] = a.Name
	}

	matches := fuzzy.Find(query, names)
	results := make([]*Achievement, 0, len(matches))
	for _, match := range matches {
		results = append(results, achievements[match.Index])
	}
	return results, nil
}

// OnProgress registers fn for achievementProgress events and returns its unsubscribe func
func (s *AchievementService) OnProgress(fn ProgressListener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	s.nextListenerID++
	id := s.nextListenerID
	s.progressListeners = append(s.progressListeners, progressListener{id: id, fn: fn})

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		for i, l := range s.progressListeners {
			if l.id == id {
				s.progressListeners = append(s.progressListeners[:i:i], s.progressListeners[i+1:]...)
				return
			}
		}
	}
}

// OnComplete registers fn for achievementComplete events and returns its unsubscribe func
func (s *AchievementService) OnComplete(fn CompletionListener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	s.nextListenerID++
	id := s.nextListenerID
	s.completeListeners = append(s.completeListeners, completionListener{id: id, fn: fn})

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		for i, l := range s.completeListeners {
			if l.id == id {
				s.completeListeners = append(s.completeListeners[:i:i], s.completeListeners[i+1:]...)
				return
			}
		}
	}
}

func (s *AchievementService) emitProgress(ctx context.Context, event domain.ProgressEvent) {
	s.recordAudit(ctx, domain.AuditEntry{
		EventType:     domain.EventAchievementProgress,
		CommunityID:   event.CommunityID,
		MemberID:      event.MemberID,
		AchievementID: event.Achievement.ID,
		Progress:      event.Progress,
		Metadata:      map[string]any{"channel_id": event.ChannelID},
	})

	s.listenersMu.RLock()
	listeners := make([]progressListener, len(s.progressListeners))
	copy(listeners, s.progressListeners)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l.fn(ctx, event)
	}
}

func (s *AchievementService) emitComplete(ctx context.Context, event domain.CompletionEvent) {
	s.recordAudit(ctx, domain.AuditEntry{
		EventType:     domain.EventAchievementComplete,
		CommunityID:   event.CommunityID,
		MemberID:      event.MemberID,
		AchievementID: event.Achievement.ID,
		Progress:      100,
		Metadata:      map[string]any{"channel_id": event.ChannelID, "completed_at": event.Completion.CompletedAt},
	})

	s.listenersMu.RLock()
	listeners := make([]completionListener, len(s.completeListeners))
	copy(listeners, s.completeListeners)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l.fn(ctx, event)
	}
}

// recordAudit never fails the operation that emitted the event
func (s *AchievementService) recordAudit(ctx context.Context, entry domain.AuditEntry) {
	if s.audit == nil {
		return
	}
	entry.CreatedAt = s.now()
	if err := s.audit.RecordEvent(ctx, entry); err != nil {
		s.logger.Error("failed to record achievement event",
			"event_type", entry.EventType,
			"community_id", entry.CommunityID,
			"achievement_id", entry.AchievementID,
			"error", err,
		)
	}
}

// records loads the stored achievement list with the community ID re-attached
func (s *AchievementService) records(ctx context.Context, communityID string) ([]domain.AchievementRecord, error) {
	records, _, err := docstore.FetchAs[[]domain.AchievementRecord](ctx, s.store, achievementsKey(communityID))
	if err != nil {
		return nil, fmt.Errorf("loading achievements: %w", err)
	}
	for i := range records {
		records[i].CommunityID = communityID
		if records[i].Completions == nil {
			records[i].Completions = []domain.CompletionEntry{}
		}
	}
	return records, nil
}

// completionPercentage is completions over human members, as a percentage
// rounded to two decimals and capped at 100. A community without human
// members is at 0.
func (s *AchievementService) completionPercentage(ctx context.Context, communityID string, completions int) (float64, error) {
	total, bots, err := s.members.CountMembers(ctx, communityID)
	if err != nil {
		return 0, fmt.Errorf("counting members: %w", err)
	}
	humans := total - bots
	if humans <= 0 {
		return 0, nil
	}
	return round2(math.Min(float64(completions)/float64(humans)*100, 100)), nil
}

func (s *AchievementService) timestamp() string {
	return s.now().In(s.location).Format(s.config.TimeFormat)
}

func (s *AchievementService) wrap(record domain.AchievementRecord) *Achievement {
	a := &Achievement{AchievementRecord: record, service: s}
	a.Progresses = &Progresses{achievement: a}
	a.FinishedCompletions = &Completions{achievement: a}
	return a
}

func indexOf(records []domain.AchievementRecord, achievementID int) int {
	for i, r := range records {
		if r.ID == achievementID {
			return i
		}
	}
	return -1
}

func achievementsKey(communityID string) string {
	return docstore.Join(communityID, achievementsField)
}

func memberKey(communityID, memberID, field string) string {
	return docstore.Join(communityID, memberID, field)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// validateID rejects IDs that would break dotted-path addressing
func validateID(param, id string) error {
	if id == "" {
		return domain.RequiredParameterMissing(param)
	}
	if strings.Contains(id, docstore.Separator) {
		return domain.InvalidValue(param, "must not contain '.'")
	}
	return nil
}

func validateMemberID(id string) error {
	if err := validateID("member_id", id); err != nil {
		return err
	}
	if id == achievementsField || id == membersField {
		return domain.InvalidValue("member_id", "is reserved")
	}
	return nil
}

func validateInput(input domain.AchievementInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return domain.RequiredParameterMissing("name")
	}
	if strings.TrimSpace(input.Description) == "" {
		return domain.RequiredParameterMissing("description")
	}
	if input.Reward == nil {
		return domain.RequiredParameterMissing("reward")
	}
	if math.IsNaN(*input.Reward) || math.IsInf(*input.Reward, 0) {
		return domain.InvalidValue("reward", "must be a finite number")
	}
	if t := input.TrackingTarget; t != nil {
		if !t.Type.Valid() {
			return domain.InvalidValue("tracking_target.type", "must be one of MONEY, MESSAGES, LEVELS, XP")
		}
		if !(t.Target > 0) || math.IsInf(t.Target, 0) {
			return domain.InvalidValue("tracking_target.target", "must be a positive number")
		}
	}
	return nil
}
