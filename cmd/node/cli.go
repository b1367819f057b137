package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
	"lanlink/internal/infrastructure/calling"
	"lanlink/internal/infrastructure/registry"
)

// sender is the outbound slice of the transport the CLI needs.
type sender interface {
	SendText(ctx context.Context, peerIP, content string) error
	SendFile(ctx context.Context, peerIP, filename string, data []byte) error
}

// cli is the interactive console. It owns stdin, renders inbound messages
// and call events, and routes commands to the transport and the signaling
// engine. It implements ports.MessageSink, ports.CallPrompt and
// ports.CallObserver.
type cli struct {
	username string
	registry *registry.PeerRegistry
	client   sender
	engine   *calling.Engine
	history  ports.MessageHistory
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	pending bool
	answers chan bool
}

func newCLI(username string, reg *registry.PeerRegistry, history ports.MessageHistory, logger *zap.SugaredLogger) *cli {
	return &cli{
		username: username,
		registry: reg,
		history:  history,
		logger:   logger,
		answers:  make(chan bool, 1),
	}
}

// Run reads commands from stdin until quit or EOF.
func (c *cli) Run(ctx context.Context) {
	fmt.Printf("lanlink node %q ready, type 'help' for commands\n", c.username)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if c.handleAnswer(line) {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "help":
			c.printHelp()
		case "list":
			c.printPeers()
		case "send":
			if len(fields) < 3 {
				fmt.Println("usage: send <peer-ip> <message>")
				continue
			}
			c.sendText(ctx, fields[1], strings.Join(fields[2:], " "))
		case "file":
			if len(fields) != 3 {
				fmt.Println("usage: file <peer-ip> <path>")
				continue
			}
			c.sendFile(ctx, fields[1], fields[2])
		case "voice":
			if len(fields) != 2 {
				fmt.Println("usage: voice <peer-ip>")
				continue
			}
			c.startCall(fields[1], domain.CallAudio)
		case "video":
			if len(fields) != 2 {
				fmt.Println("usage: video <peer-ip>")
				continue
			}
			c.startCall(fields[1], domain.CallVideo)
		case "hangup":
			c.engine.Hangup()
			fmt.Println("call ended")
		case "history":
			if len(fields) != 2 {
				fmt.Println("usage: history <peer-ip>")
				continue
			}
			c.printHistory(ctx, fields[1])
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command %q, type 'help'\n", fields[0])
		}
	}
}

// handleAnswer consumes accept/reject while an incoming call is pending.
func (c *cli) handleAnswer(line string) bool {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if !pending {
		return false
	}
	switch line {
	case "accept", "yes", "y":
		c.answers <- true
		return true
	case "reject", "no", "n":
		c.answers <- false
		return true
	}
	fmt.Println("incoming call pending, type 'accept' or 'reject'")
	return true
}

func (c *cli) printHelp() {
	fmt.Println(`commands:
  list                  show discovered peers
  send <ip> <message>   send a text message
  file <ip> <path>      send a file
  voice <ip>            start a voice call
  video <ip>            start a video call
  hangup                end the active call
  history <ip>          show stored messages for a peer
  quit                  exit`)
}

func (c *cli) printPeers() {
	peers := c.registry.Snapshot()
	if len(peers) == 0 {
		fmt.Println("no peers discovered yet")
		return
	}
	for _, p := range peers {
		fmt.Printf("  %-15s %s (last seen %s ago)\n",
			p.IP, p.Username, time.Since(p.LastSeen).Round(time.Second))
	}
}

func (c *cli) sendText(ctx context.Context, peerIP, content string) {
	if err := c.client.SendText(ctx, peerIP, content); err != nil {
		fmt.Printf("send failed: %v\n", err)
		return
	}
	fmt.Println("sent")
}

func (c *cli) sendFile(ctx context.Context, peerIP, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("cannot read %s: %v\n", path, err)
		return
	}
	if err := c.client.SendFile(ctx, peerIP, filepath.Base(path), data); err != nil {
		fmt.Printf("send failed: %v\n", err)
		return
	}
	fmt.Printf("sent %s (%d bytes)\n", filepath.Base(path), len(data))
}

func (c *cli) startCall(peerIP string, kind domain.CallKind) {
	if err := c.engine.Call(peerIP, kind); err != nil {
		fmt.Printf("call failed: %v\n", err)
		return
	}
	fmt.Printf("calling %s...\n", peerIP)
}

func (c *cli) printHistory(ctx context.Context, peerIP string) {
	messages, err := c.history.Query(ctx, peerIP, 20)
	if err != nil {
		fmt.Printf("history unavailable: %v\n", err)
		return
	}
	if len(messages) == 0 {
		fmt.Println("no stored messages")
		return
	}
	for _, m := range messages {
		fmt.Printf("  [%s] %s: %s\n",
			m.Timestamp.Format("15:04:05"), m.SenderUsername, m.Content)
	}
}

// DeliverText implements ports.MessageSink.
func (c *cli) DeliverText(senderIP, username, content string, timestamp float64) {
	at := time.Unix(int64(timestamp), 0).Format("15:04:05")
	fmt.Printf("\n[%s] %s (%s): %s\n", at, username, senderIP, content)
}

// DeliverFile implements ports.MessageSink.
func (c *cli) DeliverFile(senderIP, username, storedName string, size int) {
	fmt.Printf("\n%s (%s) sent a file: %s (%d bytes)\n", username, senderIP, storedName, size)
}

// IncomingCall implements ports.CallPrompt. It blocks until the user types
// accept or reject.
func (c *cli) IncomingCall(peerIP, username string, kind domain.CallKind) bool {
	fmt.Printf("\nincoming %s call from %s (%s), type 'accept' or 'reject'\n", kind, username, peerIP)

	c.mu.Lock()
	c.pending = true
	c.mu.Unlock()

	answer := <-c.answers

	c.mu.Lock()
	c.pending = false
	c.mu.Unlock()
	return answer
}

func (c *cli) CallAccepted(peerIP string) {
	fmt.Printf("\ncall with %s connected\n", peerIP)
}

func (c *cli) CallRejected(peerIP string) {
	fmt.Printf("\n%s rejected the call\n", peerIP)
}

func (c *cli) CallBusy(peerIP string) {
	fmt.Printf("\n%s is busy\n", peerIP)
}

func (c *cli) CallEnded(peerIP string) {
	fmt.Printf("\ncall with %s ended\n", peerIP)
}
