// captionview is a terminal subscriber for a caption relay server. It
// connects to the WebSocket endpoint, prints normalized captions as they
// arrive, and dumps the assembled transcript on exit.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/linzo/caption-relay/pkg/captions"
	"github.com/linzo/caption-relay/pkg/logger"
)

func main() {
	endpoint := flag.String("endpoint", "ws://localhost:8080/transcription", "Caption relay WebSocket endpoint")
	callSID := flag.String("call", "", "Only show captions for this call SID")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, or error")
	flag.Parse()

	log, err := logger.New(logger.Config{
		Level:  *logLevel,
		Format: "console",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	client := captions.NewClient(*endpoint, log)

	client.OnStatus(func(state captions.State, err error) {
		switch state {
		case captions.StateConnected:
			fmt.Fprintf(os.Stderr, "* connected to %s\n", *endpoint)
			if *callSID != "" {
				if err := client.Subscribe(*callSID); err != nil {
					fmt.Fprintf(os.Stderr, "* subscribe failed: %v\n", err)
				}
			}
		case captions.StateError:
			fmt.Fprintf(os.Stderr, "* connection error: %v\n", err)
		case captions.StateDisconnected:
			fmt.Fprintln(os.Stderr, "* disconnected")
		}
	})

	client.Aggregator().OnUpdate(func(sid string, state captions.TranscriptState) {
		if *callSID != "" && sid != *callSID && sid != "" {
			return
		}
		line := state.Latest
		if state.Interim != "" {
			line = state.Interim + " …"
		}
		fmt.Printf("[%s] %s\n", displaySID(sid), line)
	})

	if err := client.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting: %v\n", err)
	}

	// stdin lines are spoken into the call via TTS
	if *callSID != "" {
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					continue
				}
				if err := client.SendTTS(*callSID, text); err != nil {
					fmt.Fprintf(os.Stderr, "* tts failed: %v\n", err)
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	client.Disconnect()

	if *callSID != "" {
		if transcript := client.Aggregator().Transcript(*callSID); transcript != "" {
			fmt.Printf("\n--- transcript %s ---\n%s\n", *callSID, transcript)
		}
	}
}

func displaySID(sid string) string {
	if sid == "" {
		return "-"
	}
	if len(sid) > 10 {
		return sid[:10]
	}
	return sid
}
