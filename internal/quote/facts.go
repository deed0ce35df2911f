package quote

import (
	"math/rand"
	"sync"
)

// TextSource supplies the message text for generated quotes.
type TextSource interface {
	Fact() string
}

// facts is the built-in corpus. Small on purpose; the point is plausible
// filler, not variety.
var facts = []string{
	"The shortest correct program is the one you never had to write.",
	"A cache with no eviction policy is just a slow memory leak.",
	"Every distributed system is a single point of failure with extra steps.",
	"Naming things is easy once you know what they actually do.",
	"The second simplest design is usually the one that ships.",
	"A retry without a budget is an outage generator.",
	"Logs are the only tests that run in production.",
	"Nothing is more permanent than a temporary feature flag.",
	"The network is reliable between incidents.",
	"An unbounded queue is a promise you cannot keep.",
	"Every timeout value is wrong for somebody.",
	"Idempotency is the politeness of machines.",
	"Schemas do not prevent mistakes, they localize them.",
	"The fastest code path is the one behind a cache you forgot about.",
	"Monotonic clocks never apologize.",
	"Deleting code is the only refactor with guaranteed payoff.",
	"A healthy service is one whose dashboards are boring.",
	"Backpressure is how a system says no without crashing.",
	"Exactly-once delivery exists, between two functions in one process.",
	"Graceful shutdown is mostly about what you refuse to start.",
}

// FactBook serves pseudo-random facts from the built-in corpus. Safe for
// concurrent use.
type FactBook struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewFactBook seeds a fact source. Pass a fixed seed for deterministic tests.
func NewFactBook(seed int64) *FactBook {
	return &FactBook{rnd: rand.New(rand.NewSource(seed))}
}

func (b *FactBook) Fact() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return facts[b.rnd.Intn(len(facts))]
}
