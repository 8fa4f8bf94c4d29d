// Command enginelink is a small demonstration client for an engined
// instance. It opens a session, pushes a few state mutations, follows the
// event stream briefly, and prints what it observed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/enginelink/enginelink/pkg/protocol"
	enginelink "github.com/enginelink/enginelink/sdk/go"
)

const appScript = `app "demo" { on state/set { merge } }`

func main() {
	addr := flag.String("addr", "127.0.0.1:7777", "engine address")
	follow := flag.Duration("follow", 3*time.Second, "how long to follow the event stream (0 disables)")
	flag.Parse()

	client, err := enginelink.New(enginelink.Options{
		Addr:               *addr,
		AppScript:          appScript,
		VerifyFingerprints: true,
		Events: enginelink.EventSinkFunc(func(ev protocol.Event) {
			fmt.Printf("event seq=%d type=%s payload=%s\n", ev.Seq, ev.Type, ev.Payload)
		}),
		Logs: enginelink.LogSinkFunc(func(level, msg string, fields map[string]any) {
			fmt.Fprintf(os.Stderr, "[%s] %s %v\n", level, msg, fields)
		}),
	})
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.Ready(ctx, nil); err != nil {
		fatal(err)
	}
	fmt.Printf("session %s ready\n", client.SessionID())

	for i, kv := range []map[string]any{
		{"greeting": "hello", "count": 1},
		{"count": 2, "nested": map[string]any{"b": true, "a": false}},
	} {
		if err := client.Dispatch(ctx, "state", "set", kv); err != nil {
			fatal(fmt.Errorf("dispatch %d: %w", i, err))
		}
	}

	state, err := json.Marshal(client.TrackedState())
	if err != nil {
		fatal(err)
	}
	fmt.Printf("state %s\nfingerprint %s\n", state, client.TrackedFingerprint())

	if *follow > 0 {
		client.StartFollow(time.Second)
		time.Sleep(*follow)
		client.StopFollow()
	}
	fmt.Printf("cursor %d\n", client.Cursor())
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "enginelink:", err)
	os.Exit(1)
}
