package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"roomchat/pkg/domain"
)

// ProbeTimeout bounds how long a connectivity check waits for the backend.
const ProbeTimeout = 5 * time.Second

var ErrProbeTimeout = errors.New("cloud connection test timed out")

const probeRetryInterval = 200 * time.Millisecond

// Probe opens a throwaway, uniquely named client and waits until it reports
// connected. The client is always closed and never shared with the live backend.
func Probe(ctx context.Context, creds domain.Credentials, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = ProbeTimeout
	}
	opts, err := ClientOptions(creds)
	if err != nil {
		return err
	}
	opts.ClientName = fmt.Sprintf("chatroom-probe-%s", uuid.NewString()[:8])
	opts.MaxRetries = -1
	opts.DialTimeout = timeout

	client := redis.NewClient(opts)
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(probeRetryInterval)
	defer ticker.Stop()
	for {
		if err := client.Ping(ctx).Err(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrProbeTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
