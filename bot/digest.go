package bot

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

type DigestEntry struct {
	Message   string
	Topic     string
	Level     slog.Level
	Timestamp time.Time
}

// DigestBuffer collects messages per chat and sends them as one summary
// per interval
type DigestBuffer struct {
	mu       sync.Mutex
	entries  map[int64][]DigestEntry
	interval time.Duration
	bot      *TgBot
	stopCh   chan struct{}
	done     chan struct{}
}

func NewDigestBuffer(bot *TgBot, interval time.Duration) *DigestBuffer {
	return &DigestBuffer{
		entries:  make(map[int64][]DigestEntry),
		interval: interval,
		bot:      bot,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (d *DigestBuffer) Add(chatId int64, msg string, topic string, level slog.Level) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[chatId] = append(d.entries[chatId], DigestEntry{
		Message:   msg,
		Topic:     topic,
		Level:     level,
		Timestamp: time.Now(),
	})
}

func (d *DigestBuffer) Len(chatId int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries[chatId])
}

func (d *DigestBuffer) StartTicker() {
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.Flush()
			case <-d.stopCh:
				d.Flush()
				return
			}
		}
	}()
}

func (d *DigestBuffer) Flush() {
	d.mu.Lock()
	snapshot := d.entries
	d.entries = make(map[int64][]DigestEntry)
	d.mu.Unlock()

	for chatId, entries := range snapshot {
		if len(entries) == 0 {
			continue
		}
		d.bot.plainResponse(chatId, formatDigest(entries))
	}
}

func (d *DigestBuffer) Stop() {
	close(d.stopCh)
	<-d.done
}

// formatDigest groups entries by topic, topics in name order
func formatDigest(entries []DigestEntry) string {
	grouped := make(map[string][]DigestEntry)
	var topics []string
	warnings := 0
	for _, e := range entries {
		if _, ok := grouped[e.Topic]; !ok {
			topics = append(topics, e.Topic)
		}
		grouped[e.Topic] = append(grouped[e.Topic], e)
		if e.Level >= slog.LevelWarn {
			warnings++
		}
	}
	sort.Strings(topics)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Summary* \\(%d events, %d warnings\\)\n\n", len(entries), warnings))
	for _, topic := range topics {
		list := grouped[topic]
		sb.WriteString(fmt.Sprintf("*%s* \\(%d\\):\n", Sanitize(topic), len(list)))
		for _, e := range list {
			mark := ""
			if e.Level >= slog.LevelWarn {
				mark = "\u26a0 "
			}
			sb.WriteString(fmt.Sprintf("`%s` %s%s\n", e.Timestamp.Format("15:04"), mark, e.Message))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
