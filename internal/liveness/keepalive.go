/*
Optional RTSP keep-alive: a periodic cheap reachability probe independent
of the frame-arrival probe, for cameras whose RTSP server stops responding
without ever tearing down the TCP connection the source already holds.

Grounded on internal/mediamtx/rtsp_keepalive_reader.go's session
lifecycle (context cancellation, restart counting) but scoped down to a
plain TCP dial probe rather than spawning a second ffmpeg/ffprobe process,
since this engine's source already owns the real media connection.
*/

package liveness

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Keepalive periodically dials the RTSP server's host:port to confirm it is
// still accepting connections, independent of whether frames are flowing. A
// token-bucket limiter caps probes (successful or failed) at one per
// interval.
type Keepalive struct {
	rtspURL  string
	interval time.Duration
	timeout  time.Duration
	onFail   func(error)
	limiter  *rate.Limiter

	mu      sync.Mutex
	cancel  context.CancelFunc
	failCnt int
}

func NewKeepalive(rtspURL string, interval, timeout time.Duration, onFail func(error)) *Keepalive {
	return &Keepalive{
		rtspURL:  rtspURL,
		interval: interval,
		timeout:  timeout,
		onFail:   onFail,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Start begins probing on a ticker. Calling Start twice without Stop does
// not panic, but the second call replaces the stored cancel func and the
// first probing loop keeps running until its ctx ends; callers (the camera
// stream supervisor) own one Keepalive per connected session.
func (k *Keepalive) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	k.mu.Lock()
	k.cancel = cancel
	k.mu.Unlock()

	go func() {
		ticker := time.NewTicker(k.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				k.probe(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (k *Keepalive) probe(ctx context.Context) {
	host := hostPort(k.rtspURL)
	if host == "" {
		return
	}
	if !k.limiter.Allow() {
		return
	}
	dialCtx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", host)
	k.mu.Lock()
	defer k.mu.Unlock()
	if err != nil {
		k.failCnt++
		if k.onFail != nil {
			k.onFail(err)
		}
		return
	}
	k.failCnt = 0
	_ = conn.Close()
}

func hostPort(rtspURL string) string {
	u, err := url.Parse(rtspURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), "554")
	}
	return u.Host
}

// Stop cancels the probe loop.
func (k *Keepalive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		k.cancel()
	}
}

// FailureCount returns consecutive probe failures since the last success.
func (k *Keepalive) FailureCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.failCnt
}
