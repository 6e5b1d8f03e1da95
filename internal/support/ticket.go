package support

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// TicketGenerator は問い合わせの受付番号（ULID）を発行する。
// 同一ミリ秒内でも単調増加するエントロピーを使い、並行呼び出しに対して安全。
type TicketGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewTicketGenerator はTicketGeneratorを生成する。
func NewTicketGenerator() *TicketGenerator {
	return &TicketGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// Next は新しい受付番号を返す。
func (g *TicketGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.now().UTC()), g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
