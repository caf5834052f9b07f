package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/guild-achievements/internal/domain"
)

var memberPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

func memberName(idx int) string {
	return fmt.Sprintf("%s%d", memberPrefixes[idx%len(memberPrefixes)], idx/len(memberPrefixes)+1)
}

// simulator keeps enough per-member state to emit plausible level, xp and
// balance payloads
type simulator struct {
	community string
	channels  []string
	levels    map[string]float64
	xp        map[string]float64
	balances  map[string]float64
}

func newSimulator(community string, channels int) *simulator {
	s := &simulator{
		community: community,
		levels:    map[string]float64{},
		xp:        map[string]float64{},
		balances:  map[string]float64{},
	}
	for i := 1; i <= channels; i++ {
		s.channels = append(s.channels, fmt.Sprintf("channel-%d", i))
	}
	return s
}

func (s *simulator) event(eventType domain.EventType, member string, bot bool) domain.PlatformEvent {
	return domain.PlatformEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		CommunityID: s.community,
		MemberID:    member,
		Bot:         bot,
		Timestamp:   time.Now().UTC(),
	}
}

func (s *simulator) join(member string, bot bool) domain.PlatformEvent {
	return s.event(domain.EventMemberJoin, member, bot)
}

// next picks a random activity: mostly messages, occasionally xp, level or balance changes
func (s *simulator) next(member string) domain.PlatformEvent {
	roll := rand.Intn(100)
	switch {
	case roll < 70:
		e := s.event(domain.EventMessage, member, false)
		e.ChannelID = s.channels[rand.Intn(len(s.channels))]
		return e

	case roll < 85:
		gained := float64(rand.Intn(40) + 10)
		s.xp[member] += gained
		total := s.xp[member]
		e := s.event(domain.EventXPAdd, member, false)
		e.Payload = domain.MetricPayload{TotalXP: &total, GainedXP: &gained}
		return e

	case roll < 92:
		s.levels[member]++
		level := s.levels[member]
		e := s.event(domain.EventLevelUp, member, false)
		e.Payload = domain.MetricPayload{Level: &level}
		return e

	default:
		s.balances[member] += float64(rand.Intn(500))
		balance := s.balances[member]
		e := s.event(domain.EventBalanceAdd, member, false)
		e.Payload = domain.MetricPayload{Balance: &balance}
		return e
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "achievement-events", "Kafka topic")
	community := flag.String("community", "guild-1", "Community ID")
	totalMembers := flag.Int("members", 100, "Number of human members to simulate")
	bots := flag.Int("bots", 2, "Number of bot members to simulate")
	channels := flag.Int("channels", 3, "Number of channels messages are spread over")
	eventsPerSecond := flag.Int("rate", 50, "Activity events per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	joinOnly := flag.Bool("join-only", false, "Only send member_join events, no activity")
	flag.Parse()

	if *totalMembers < 1 || *eventsPerSecond < 1 || *channels < 1 {
		log.Fatal("members, rate and channels must be positive")
	}

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  🏆 Achievement Event Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Community:        %s\n", *community)
	fmt.Printf("  Members:          %d (+%d bots)\n", *totalMembers, *bots)
	fmt.Printf("  Events/sec:       %d\n", *eventsPerSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	// one community per key keeps its events on one partition, in order
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdown := func(reason string) {
		fmt.Printf("\n\n%s\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	send := func(event domain.PlatformEvent) {
		data, err := json.Marshal(event)
		if err != nil {
			log.Printf("Failed to marshal event: %v", err)
			return
		}
		producer.Input() <- &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(event.CommunityID),
			Value: sarama.ByteEncoder(data),
		}
	}

	sim := newSimulator(*community, *channels)

	fmt.Printf("Joining %d members and %d bots...\n", *totalMembers, *bots)
	for i := 0; i < *totalMembers; i++ {
		send(sim.join(memberName(i), false))
	}
	for i := 0; i < *bots; i++ {
		send(sim.join(fmt.Sprintf("bot-%d", i+1), true))
	}
	fmt.Printf("✓ Joined %d members\n\n", *totalMembers+*bots)

	if *joinOnly {
		shutdown("Join-only mode: exiting after member joins")
		return
	}

	fmt.Printf("Starting activity (%d/sec), press Ctrl+C to stop\n\n", *eventsPerSecond)

	ticker := time.NewTicker(time.Second / time.Duration(*eventsPerSecond))
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var eventCount int64

	for {
		select {
		case <-sigChan:
			shutdown("Shutting down...")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached, shutting down...")
				return
			}

			// a small active core produces most of the activity
			var idx int
			if rand.Intn(100) < 60 && *totalMembers > 10 {
				idx = rand.Intn(10)
			} else {
				idx = rand.Intn(*totalMembers)
			}
			send(sim.next(memberName(idx)))
			eventCount++

		case <-statsTicker.C:
			fmt.Printf("[%s] Events: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				eventCount,
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
