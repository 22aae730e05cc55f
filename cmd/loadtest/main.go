// Command loadtest opens many websocket sessions against a studyroom server,
// publishes messages from each and reports acknowledgment latency.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/putto11262002/studyroom/core"
	"github.com/putto11262002/studyroom/pkg/proto"
	"github.com/spf13/pflag"
)

type params struct {
	url      string
	secret   []byte
	rooms    int
	clients  int
	messages int
	size     int
	interval time.Duration
	timeout  time.Duration
}

type result struct {
	sent      int
	acked     int
	rejected  map[proto.Code]int
	latencies []time.Duration
}

type client struct {
	id   string
	room string
	conn *websocket.Conn
}

func dial(p params, userID, roomID string) (*client, error) {
	token, _, err := core.NewToken(userID, userID, time.Hour, p.secret)
	if err != nil {
		return nil, fmt.Errorf("NewToken: %w", err)
	}
	q := url.Values{"userId": {userID}, "roomId": {roomID}, "authToken": {token}}
	conn, _, err := websocket.DefaultDialer.Dial(p.url+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("Dial: %w", err)
	}
	return &client{id: userID, room: roomID, conn: conn}, nil
}

// run publishes p.messages messages and waits for their acknowledgments.
func (c *client) run(ctx context.Context, p params) result {
	res := result{rejected: make(map[proto.Code]int)}
	var mu sync.Mutex
	sentAt := make(map[string]time.Time)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && ctx.Err() == nil {
					log.Printf("client %s: read error: %v", c.id, err)
				}
				return
			}
			e, err := proto.Unmarshal(data)
			if err != nil {
				log.Printf("client %s: decode: %v", c.id, err)
				continue
			}
			now := time.Now()
			mu.Lock()
			switch e := e.(type) {
			case proto.ChatEvent:
				if t, ok := sentAt[e.MessageID]; ok && e.UserID == c.id {
					res.acked++
					res.latencies = append(res.latencies, now.Sub(t))
					delete(sentAt, e.MessageID)
				}
			case proto.ErrorEvent:
				if _, ok := sentAt[e.MessageID]; ok {
					res.rejected[e.Code]++
					delete(sentAt, e.MessageID)
				}
			}
			finished := res.sent == p.messages && len(sentAt) == 0
			mu.Unlock()
			if finished {
				return
			}
		}
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	content := strings.Repeat("a", p.size)
	for i := range p.messages {
		select {
		case <-ctx.Done():
			c.conn.Close()
			<-done
			return res
		case <-ticker.C:
		}
		draftID := fmt.Sprintf("%s-%d", c.id, i)
		data, err := proto.Marshal(proto.ChatEvent{ID: draftID, RoomID: c.room, Content: content})
		if err != nil {
			log.Fatalf("marshal: %v", err)
		}
		mu.Lock()
		sentAt[draftID] = time.Now()
		res.sent++
		mu.Unlock()
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("client %s: write: %v", c.id, err)
			break
		}
	}

	select {
	case <-done:
	case <-time.After(p.timeout):
	case <-ctx.Done():
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
	<-done
	return res
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[min(int(float64(len(sorted))*p), len(sorted)-1)]
}

func main() {
	var p params
	var secret string
	pflag.StringVar(&p.url, "url", "ws://localhost:8080/ws", "websocket endpoint")
	pflag.StringVar(&secret, "secret", os.Getenv("AUTH_SECRET"), "base64 AUTH_SECRET of the server")
	pflag.IntVar(&p.rooms, "rooms", 10, "number of rooms")
	pflag.IntVar(&p.clients, "clients", 100, "number of sessions, spread over the rooms")
	pflag.IntVar(&p.messages, "messages", 20, "messages per session")
	pflag.IntVar(&p.size, "size", 100, "message size in bytes")
	pflag.DurationVar(&p.interval, "interval", 500*time.Millisecond, "delay between messages of a session")
	pflag.DurationVar(&p.timeout, "timeout", 10*time.Second, "how long to wait for outstanding acknowledgments")
	pflag.Parse()

	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil || len(key) == 0 {
		log.Fatalf("--secret must be the base64 AUTH_SECRET of the server")
	}
	p.secret = key

	clients := make([]*client, 0, p.clients)
	for i := range p.clients {
		c, err := dial(p, fmt.Sprintf("load-%d", i), fmt.Sprintf("room-%d", i%max(p.rooms, 1)))
		if err != nil {
			log.Fatalf("client %d: %v", i, err)
		}
		clients = append(clients, c)
	}

	ctx := context.Background()
	start := time.Now()
	results := make([]result, len(clients))
	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.run(ctx, p)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	var total result
	total.rejected = make(map[proto.Code]int)
	for _, r := range results {
		total.sent += r.sent
		total.acked += r.acked
		total.latencies = append(total.latencies, r.latencies...)
		for code, n := range r.rejected {
			total.rejected[code] += n
		}
	}
	slices.Sort(total.latencies)

	fmt.Printf("sessions: %d in %d rooms, %s\n", len(clients), p.rooms, elapsed.Round(time.Millisecond))
	fmt.Printf("sent: %d, acknowledged: %d\n", total.sent, total.acked)
	for code, n := range total.rejected {
		fmt.Printf("rejected %s: %d\n", code, n)
	}
	fmt.Printf("latency p50: %v, p99: %v\n", percentile(total.latencies, 0.5), percentile(total.latencies, 0.99))
}
