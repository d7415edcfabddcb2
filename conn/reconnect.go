package conn

import (
	"context"

	"github.com/cenkalti/backoff/v5"
)

// dialOnce resolves and dials a single Stream, used as the retried
// operation inside reconnect.
func (c *Conn) dialOnce(ctx context.Context) (Stream, error) {
	c.setState(stateResolving)
	resolveCtx, cancel := context.WithTimeout(ctx, c.opts.ResolveTimeout)
	defer cancel()
	addrs, err := c.resolver.Resolve(resolveCtx, c.opts.Host, c.opts.Port)
	if err != nil {
		return nil, ErrResolveTimeout
	}
	if len(addrs) == 0 {
		return nil, ErrResolveTimeout
	}

	c.setState(stateConnecting)
	connectCtx, cancel2 := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel2()
	stream, err := c.dialer.Dial(connectCtx, addrs[0])
	if err != nil {
		return nil, ErrConnectTimeout
	}
	return stream, nil
}

// reconnect retries dialOnce with exponential backoff, seeded from
// ReconnectWaitInterval and bounded by MaxReconnectElapsed.
func (c *Conn) reconnect(ctx context.Context) (Stream, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.ReconnectWaitInterval

	stream, err := backoff.Retry[Stream](ctx, func() (Stream, error) {
		s, dialErr := c.dialOnce(ctx)
		if dialErr != nil {
			incrReconnect(c.ID())
			return nil, dialErr
		}
		return s, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(c.opts.MaxReconnectElapsed))
	if err != nil {
		return nil, err
	}
	return stream, nil
}
