package kafka

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guild-achievements/internal/config"
	"github.com/guild-achievements/internal/domain"
)

type recordingHandler struct {
	calls  map[string]int
	errFor map[string][]error
}

func (h *recordingHandler) HandleEvent(_ context.Context, event domain.PlatformEvent) error {
	h.calls[event.ID]++
	if errs := h.errFor[event.ID]; len(errs) > 0 {
		err := errs[0]
		h.errFor[event.ID] = errs[1:]
		return err
	}
	return nil
}

func testConsumer(handler EventHandler) *Consumer {
	cfg := &config.KafkaConfig{RetryAttempts: 3, RetryDelay: time.Millisecond, BatchSize: 10}
	return newConsumer(cfg, handler, slog.New(slog.NewTextHandler(os.Stdout, nil)))
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{
			name:  "message event",
			value: `{"id":"e1","type":"message","community_id":"G1","member_id":"U1","channel_id":"C1"}`,
		},
		{
			name:  "level up with payload",
			value: `{"id":"e2","type":"level_up","community_id":"G1","member_id":"U1","payload":{"level":3}}`,
		},
		{name: "not json", value: `{`, wantErr: true},
		{name: "missing member", value: `{"type":"message","community_id":"G1"}`, wantErr: true},
		{name: "unknown type", value: `{"type":"reaction","community_id":"G1","member_id":"U1"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeEvent([]byte(tt.value))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	event, err := decodeEvent([]byte(`{"type":"xp_add","community_id":"G1","member_id":"U1","payload":{"total_xp":120,"gained_xp":20}}`))
	require.NoError(t, err)
	require.NotNil(t, event.Payload.TotalXP)
	assert.Equal(t, 120.0, *event.Payload.TotalXP)
}

func TestProcessBatch(t *testing.T) {
	handler := &recordingHandler{
		calls: map[string]int{},
		errFor: map[string][]error{
			"transient": {errors.New("connection reset")},
			"invalid":   {domain.RequiredParameterMissing("payload.level")},
			"broken":    {errors.New("down"), errors.New("down"), errors.New("down")},
		},
	}
	c := testConsumer(handler)

	handled, failed := c.processBatch(context.Background(), []domain.PlatformEvent{
		{ID: "ok"},
		{ID: "transient"},
		{ID: "invalid"},
		{ID: "broken"},
	})

	assert.Equal(t, 2, handled)
	assert.Equal(t, 2, failed)

	assert.Equal(t, 1, handler.calls["ok"])
	assert.Equal(t, 2, handler.calls["transient"])
	assert.Equal(t, 1, handler.calls["invalid"])
	assert.Equal(t, 3, handler.calls["broken"])
}

// fakeGroup is a consumer group whose sessions last until the context ends.
// With setup unset it never joins, as when no broker is reachable.
type fakeGroup struct {
	setup  bool
	closed atomic.Bool
	errs   chan error
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, handler sarama.ConsumerGroupHandler) error {
	if g.setup {
		if err := handler.Setup(nil); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	g.closed.Store(true)
	return nil
}

func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

func TestStart_Ready(t *testing.T) {
	group := &fakeGroup{setup: true, errs: make(chan error)}
	c := testConsumer(&recordingHandler{calls: map[string]int{}})
	c.consumerGroup = group

	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
	assert.True(t, group.closed.Load())
}

func TestStart_TimesOutWithoutBrokers(t *testing.T) {
	group := &fakeGroup{errs: make(chan error)}
	c := testConsumer(&recordingHandler{calls: map[string]int{}})
	c.config.ReadyTimeout = 20 * time.Millisecond
	c.consumerGroup = group

	done := make(chan error, 1)
	go func() { done <- c.Start() }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	assert.True(t, group.closed.Load())
}
