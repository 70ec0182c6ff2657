// ABOUTME: Minimal fake client for E2E testing: connects over WebSocket and answers prompts.
// ABOUTME: Usage: fake-client [-url ws://localhost:8080/ws] [-token T] [-answer "yes"]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/2389/toolgate/internal/builtins"
	"github.com/2389/toolgate/internal/client"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "gateway WebSocket URL")
	token := flag.String("token", os.Getenv("TOOLGATE_TOKEN"), "bearer token")
	answer := flag.String("answer", "", "fixed answer for prompts (default: echo the question)")
	flag.Parse()

	if err := run(*url, *token, *answer); err != nil {
		log.Fatal(err)
	}
}

// prompt is the params payload of a client/prompt request.
type prompt struct {
	Question string `json:"question"`
}

func run(url, token, answer string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()

	c, err := client.Dial(dialCtx, url, client.Options{
		Token:          token,
		RequestHandler: answerPrompt(answer),
	})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer c.Close()

	fmt.Fprintf(os.Stderr, "connected as %s (capabilities: %s)\n",
		c.ClientID(), strings.Join(c.Capabilities(), ", "))

	// Notification loop
	for {
		select {
		case <-ctx.Done():
			return nil // graceful shutdown
		case f, ok := <-c.Notifications():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("connection closed: %w", c.Err())
			}
			log.Printf("notification [%s]: %s", f.Method, f.Params)
		}
	}
}

func answerPrompt(fixed string) client.RequestHandler {
	return func(_ context.Context, method string, params json.RawMessage) (any, error) {
		if method != builtins.PromptMethod {
			return nil, fmt.Errorf("unsupported method: %s", method)
		}

		var p prompt
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid prompt: %w", err)
		}
		log.Printf("prompt: %s", p.Question)

		reply := fixed
		if reply == "" {
			reply = "Echo: " + p.Question
		}
		return map[string]string{"answer": reply}, nil
	}
}
