package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Ager is one fill instance's bucket store.
type Ager interface {
	Instance() string
	AgeBuckets(ctx context.Context, now time.Time) error
}

// AgingService ages an instance's rotation buckets once at start and then
// every interval. Failures are logged and retried on the next tick.
type AgingService struct {
	ager     Ager
	interval time.Duration
	now      func() time.Time
}

func NewAgingService(ager Ager, interval time.Duration) *AgingService {
	return &AgingService{ager: ager, interval: interval, now: time.Now}
}

func (a *AgingService) Serve(ctx context.Context) error {
	a.tick(ctx)
	if a.interval <= 0 {
		// single-level ladder: nothing ever ages
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *AgingService) tick(ctx context.Context) {
	if err := a.ager.AgeBuckets(ctx, a.now()); err != nil {
		log.Error().Err(err).Str("instance", a.ager.Instance()).Msg("[fill] bucket aging failed")
	}
}

func (a *AgingService) String() string {
	return "bucket-aging:" + a.ager.Instance()
}
