// loadtest drives a liveserver instance with synthetic clients: each client
// authenticates, joins a shared room, publishes events at a fixed rate, and
// records delivery latency from the server timestamp.
// Usage: go run ./cmd/loadtest --addr ws://localhost:9000/ws --secret dev-secret
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/jstrand/league-live/internal/event"
)

type counters struct {
	sent     atomic.Int64
	received atomic.Int64
	rateHits atomic.Int64
	errors   atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (c *counters) observe(lat time.Duration) {
	c.mu.Lock()
	c.latencies = append(c.latencies, lat)
	c.mu.Unlock()
}

func main() {
	addr := flag.String("addr", "ws://localhost:9000/ws", "server websocket URL")
	secret := flag.String("secret", "dev-secret", "JWT signing secret")
	clients := flag.Int("clients", 50, "number of concurrent clients")
	room := flag.String("room", "league:loadtest", "room every client joins")
	rate := flag.Duration("rate", 200*time.Millisecond, "publish interval per client")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("interrupted")
		cancel()
	}()

	stats := &counters{}

	logger.Info("starting load test",
		"addr", *addr,
		"clients", *clients,
		"room", *room,
		"rate", rate.String(),
		"duration", duration.String(),
	)

	var wg sync.WaitGroup
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("loadtest-user-%d", n)
			if err := runClient(ctx, *addr, *secret, userID, *room, *rate, stats, logger); err != nil {
				stats.errors.Add(1)
				logger.Warn("client failed", "user", userID, "error", err)
			}
		}(i)
	}

	// Progress printer
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("progress",
					"sent", stats.sent.Load(),
					"received", stats.received.Load(),
					"rate_limited", stats.rateHits.Load(),
					"errors", stats.errors.Load(),
				)
			}
		}
	}()

	wg.Wait()
	report(stats, logger)
}

// runClient connects, authenticates, joins the room, and publishes until the
// context expires, counting every delivery it sees.
func runClient(ctx context.Context, addr, secret, userID, room string, rate time.Duration, stats *counters, logger *slog.Logger) error {
	token, err := signToken(secret, userID)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("dialing: %w", err)
	}
	defer conn.Close()

	if err := sendFrame(conn, event.TypeAuthenticate, event.AuthenticatePayload{
		UserID: userID,
		Token:  token,
	}); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	if err := awaitAck(conn, event.TypeAuthenticated); err != nil {
		return err
	}

	if err := sendFrame(conn, event.TypeJoinRoom, event.RoomPayload{Room: room}); err != nil {
		return fmt.Errorf("joining room: %w", err)
	}
	if err := awaitAck(conn, event.TypeJoinedRoom); err != nil {
		return err
	}

	// Reader: counts deliveries and measures latency off the server stamp.
	go func() {
		for {
			var out event.Outbound
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if err := conn.ReadJSON(&out); err != nil {
				return
			}
			switch out.Type {
			case event.TypeRateLimited:
				stats.rateHits.Add(1)
			case event.TypeEvent:
				stats.received.Add(1)
				if out.ServerTimestamp > 0 {
					sent := time.UnixMicro(out.ServerTimestamp)
					stats.observe(time.Since(sent))
				}
			}
		}
	}()

	payload, _ := json.Marshal(map[string]any{"user": userID})
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return nil
		case <-ticker.C:
			if err := sendFrame(conn, event.TypePublish, event.PublishPayload{
				Room:      room,
				EventType: event.TypeChatMessage,
				Payload:   payload,
			}); err != nil {
				return fmt.Errorf("publishing: %w", err)
			}
			stats.sent.Add(1)
		}
	}
}

func sendFrame(conn *websocket.Conn, frameType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(event.Inbound{Type: frameType, Data: data})
}

// awaitAck reads until the expected control frame arrives, skipping any
// broadcast traffic interleaved with it.
func awaitAck(conn *websocket.Conn, want string) error {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var out event.Outbound
		conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&out); err != nil {
			return fmt.Errorf("waiting for %s: %w", want, err)
		}
		if out.Type == want {
			if out.Success != nil && !*out.Success {
				return fmt.Errorf("%s rejected", want)
			}
			return nil
		}
	}
	return fmt.Errorf("timed out waiting for %s", want)
}

func signToken(secret, userID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func report(stats *counters, logger *slog.Logger) {
	stats.mu.Lock()
	lats := stats.latencies
	stats.mu.Unlock()

	logger.Info("load test complete",
		"sent", stats.sent.Load(),
		"received", stats.received.Load(),
		"rate_limited", stats.rateHits.Load(),
		"errors", stats.errors.Load(),
	)

	if len(lats) == 0 {
		return
	}
	sort.Slice(lats, func(i, j int) bool { return lats[i] < lats[j] })
	pct := func(p float64) time.Duration {
		idx := int(p * float64(len(lats)-1))
		return lats[idx]
	}
	logger.Info("delivery latency",
		"samples", len(lats),
		"p50", pct(0.50).String(),
		"p95", pct(0.95).String(),
		"p99", pct(0.99).String(),
		"max", lats[len(lats)-1].String(),
	)
}
