// Command rfid-monitor is a terminal client for the RFID agent bridge. It
// shows the connection state and the live tag stream, and issues reader
// commands from the keyboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dotside-studios/rfid-reader-agent/config"
)

func main() {
	defaultURL := fmt.Sprintf("ws://localhost:%d/ws", config.EnvInt(config.EnvPrefix+"PORT", config.DefaultPort))

	addr := flag.String("url", config.EnvOr("RFID_MONITOR_URL", defaultURL), "Bridge WebSocket URL")
	secret := flag.String("secret", os.Getenv(config.EnvPrefix+"API_SECRET"), "Bridge API secret")
	insecure := flag.Bool("insecure", false, "Skip TLS certificate verification for wss URLs")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	client, err := Dial(ctx, *addr, *secret, *insecure)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer client.Close()

	program := tea.NewProgram(NewModel(client, client.Incoming(), *addr), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
