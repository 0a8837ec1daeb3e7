package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"fyne.io/systray"

	"github.com/dotside-studios/rfid-reader-agent/buildinfo"
	"github.com/dotside-studios/rfid-reader-agent/rfid"
	"github.com/dotside-studios/rfid-reader-agent/tls"
)

// displayHosts returns the LAN addresses clients can reach the bridge on,
// or localhost when there are none.
func displayHosts() []string {
	ips, err := tls.GetLANIPs()
	if err != nil || len(ips) == 0 {
		return []string{"localhost"}
	}
	return ips
}

// SystrayApp manages the system tray interface for the RFID agent
type SystrayApp struct {
	agent  *Agent
	logger *log.Logger

	// Menu items
	mStatus    *systray.MenuItem
	mReader    *systray.MenuItem
	mBattery   *systray.MenuItem
	mLastTag   *systray.MenuItem
	mTrigger   *systray.MenuItem
	mStart     *systray.MenuItem
	mStop      *systray.MenuItem
	mQuit      *systray.MenuItem
	mBridgeURL *systray.MenuItem
	mCopyURL   *systray.MenuItem
	mCAURL     *systray.MenuItem

	// Reader menu items
	mConnect        *systray.MenuItem
	mDisconnect     *systray.MenuItem
	mStartInventory *systray.MenuItem
	mStopInventory  *systray.MenuItem
	mPause          *systray.MenuItem
	mResume         *systray.MenuItem

	iconMu   sync.Mutex
	lastIcon []byte
}

// NewSystrayApp creates a new systray application
func NewSystrayApp(agent *Agent) *SystrayApp {
	return &SystrayApp{
		agent:  agent,
		logger: log.New(log.Writer(), "[systray] ", log.LstdFlags),
	}
}

// Run starts the systray application and blocks until Quit.
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

func (s *SystrayApp) Quit() {
	systray.Quit()
}

func (s *SystrayApp) onReady() {
	s.setupUI()
	go s.handleMenuEvents()
	s.autoStartAgent()
	s.startSnapshotUpdater()
}

func (s *SystrayApp) onExit() {
	s.agent.Stop()
}

// setupUI initializes all menu items
func (s *SystrayApp) setupUI() {
	systray.SetIcon(iconData)
	systray.SetTooltip(buildinfo.DisplayName)

	// Status section
	s.mStatus = systray.AddMenuItem("Starting...", "Agent Status")
	s.mStatus.Disable()

	s.mBridgeURL = systray.AddMenuItem("Bridge: Not running", "Bridge WebSocket URL")
	s.mBridgeURL.Disable()
	s.mCopyURL = systray.AddMenuItem("  Copy Bridge URL", "Copy the bridge URL to clipboard")
	s.mCAURL = systray.AddMenuItem("CA Cert: Disabled", "CA certificate download URL")
	s.mCAURL.Disable()

	systray.AddSeparator()

	// Reader info section
	s.mReader = systray.AddMenuItem(readerTitle(Snapshot{}), "Active reader")
	s.mReader.Disable()
	s.mBattery = systray.AddMenuItem(batteryTitle(Snapshot{}), "Reader battery")
	s.mBattery.Disable()
	s.mLastTag = systray.AddMenuItem(tagTitle(Snapshot{}), "Last tag read")
	s.mLastTag.Disable()
	s.mTrigger = systray.AddMenuItem(triggerTitle(Snapshot{}), "Trigger state")
	s.mTrigger.Disable()

	systray.AddSeparator()

	// Reader control section
	mReaderMenu := systray.AddMenuItem("Reader", "Reader commands")
	s.mConnect = mReaderMenu.AddSubMenuItem("Connect", "Connect the best available reader")
	s.mDisconnect = mReaderMenu.AddSubMenuItem("Disconnect", "Disconnect the active reader")
	s.mStartInventory = mReaderMenu.AddSubMenuItem("Start Inventory", "Start reading tags")
	s.mStopInventory = mReaderMenu.AddSubMenuItem("Stop Inventory", "Stop reading tags")
	s.mPause = mReaderMenu.AddSubMenuItem("Pause Session", "Release the reader until resumed")
	s.mResume = mReaderMenu.AddSubMenuItem("Resume Session", "Rescan and reconnect")

	systray.AddSeparator()

	// Agent control section
	s.mStart = systray.AddMenuItem("Start Agent", "Start the RFID agent")
	s.mStop = systray.AddMenuItem("Stop Agent", "Stop the RFID agent")
	s.mStart.Disable() // Disable start since we're auto-starting
	s.mStop.Disable()  // Will be enabled once agent starts

	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("Quit", "Quit the application")
}

// autoStartAgent starts the agent automatically
func (s *SystrayApp) autoStartAgent() {
	go s.handleStartAgent()
}

// startSnapshotUpdater refreshes the reader section from the agent snapshot
func (s *SystrayApp) startSnapshotUpdater() {
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		var last Snapshot

		for range ticker.C {
			snap := s.agent.Snapshot()
			if snap.Status != last.Status || snap.ReaderName != last.ReaderName {
				s.mReader.SetTitle(readerTitle(snap))
			}
			s.mBattery.SetTitle(batteryTitle(snap))
			if snap.LastEPC != last.LastEPC || snap.TagReads != last.TagReads {
				s.mLastTag.SetTitle(tagTitle(snap))
			}
			if snap.Trigger != last.Trigger {
				s.mTrigger.SetTitle(triggerTitle(snap))
			}
			// updateStatus owns the icon while the agent is down
			if s.agent.Running() {
				s.setIcon(iconFor(true, snap))
			}
			last = snap
		}
	}()
}

func (s *SystrayApp) setIcon(icon []byte) {
	s.iconMu.Lock()
	defer s.iconMu.Unlock()
	if bytes.Equal(icon, s.lastIcon) {
		return
	}
	s.lastIcon = icon
	systray.SetIcon(icon)
}

// handleMenuEvents processes all menu click events
func (s *SystrayApp) handleMenuEvents() {
	for {
		select {
		case <-s.mStart.ClickedCh:
			s.handleStartAgent()
		case <-s.mStop.ClickedCh:
			s.handleStopAgent()
		case <-s.mCopyURL.ClickedCh:
			url := s.agent.BridgeURL(displayHosts()[0])
			if err := copyToClipboard(url); err != nil {
				s.logger.Printf("Failed to copy to clipboard: %v", err)
			} else {
				s.logger.Printf("Copied bridge URL to clipboard")
			}
		case <-s.mConnect.ClickedCh:
			s.command("connect", func(ctx context.Context, c *rfid.Controller) error {
				res, err := c.Connect(ctx)
				if err == nil {
					s.logger.Printf("Connect: %s (%s)", res.Status, res.ReaderName)
				}
				return err
			})
		case <-s.mDisconnect.ClickedCh:
			s.command("disconnect", func(ctx context.Context, c *rfid.Controller) error {
				return c.Disconnect(ctx)
			})
		case <-s.mStartInventory.ClickedCh:
			s.command("startInventory", func(ctx context.Context, c *rfid.Controller) error {
				return c.StartInventory(ctx)
			})
		case <-s.mStopInventory.ClickedCh:
			s.command("stopInventory", func(ctx context.Context, c *rfid.Controller) error {
				_, err := c.StopInventory(ctx)
				return err
			})
		case <-s.mPause.ClickedCh:
			s.command("pause", func(ctx context.Context, c *rfid.Controller) error {
				return c.OnPause(ctx)
			})
		case <-s.mResume.ClickedCh:
			s.command("resume", func(ctx context.Context, c *rfid.Controller) error {
				return c.OnResume(ctx)
			})
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

// command runs a reader command with the configured timeout.
func (s *SystrayApp) command(name string, fn func(ctx context.Context, c *rfid.Controller) error) {
	c := s.agent.Session()
	if c == nil {
		s.logger.Printf("Ignoring %s: agent is not running", name)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.agent.Config.CommandTimeout)
		defer cancel()
		if err := fn(ctx, c); err != nil {
			s.logger.Printf("%s failed: %v", name, err)
		}
	}()
}

// handleStartAgent starts the agent
func (s *SystrayApp) handleStartAgent() {
	if err := s.agent.Start(context.Background()); err == nil {
		s.updateStatus("Running")
		s.updateURLs()
		s.mStart.Disable()
		s.mStop.Enable()
	} else {
		s.logger.Printf("Failed to start agent: %v", err)
		s.updateStatus("Failed to Start")
		s.mStart.Enable()
	}
}

// handleStopAgent stops the agent
func (s *SystrayApp) handleStopAgent() {
	s.agent.Stop()
	s.updateStatus("Stopped")
	s.clearURLs()
	s.mStop.Disable()
	s.mStart.Enable()
}

// updateStatus updates the status menu item and icon
func (s *SystrayApp) updateStatus(status string) {
	s.mStatus.SetTitle(status)

	switch status {
	case "Failed to Start":
		s.setIcon(iconDataError)
	case "Stopped":
		s.setIcon(iconDataStopped)
	default:
		s.setIcon(iconData)
	}
}

// updateURLs shows the bridge and CA addresses for the first LAN host
func (s *SystrayApp) updateURLs() {
	host := displayHosts()[0]
	s.mBridgeURL.SetTitle("Bridge: " + s.agent.BridgeURL(host))
	if ca := s.agent.CAURL(host); ca != "" {
		s.mCAURL.SetTitle("CA Cert: " + ca)
	} else {
		s.mCAURL.SetTitle("CA Cert: Disabled")
	}
}

func (s *SystrayApp) clearURLs() {
	s.mBridgeURL.SetTitle("Bridge: Not running")
	s.mCAURL.SetTitle("CA Cert: Disabled")
}

func readerTitle(snap Snapshot) string {
	switch snap.Status {
	case rfid.StatusConnected:
		name := snap.ReaderName
		if name == "" {
			name = rfid.UnknownReaderName
		}
		return "Reader: " + name
	case rfid.StatusConnecting:
		return "Reader: Connecting..."
	default:
		return "Reader: Disconnected"
	}
}

func batteryTitle(snap Snapshot) string {
	if snap.Status != rfid.StatusConnected || snap.BatteryLevel == nil {
		return "Battery: -"
	}
	return fmt.Sprintf("Battery: %d%%", *snap.BatteryLevel)
}

func tagTitle(snap Snapshot) string {
	if snap.LastEPC == "" {
		return "Last Tag: None"
	}
	return fmt.Sprintf("Last Tag: %s (%d dBm, %d reads)", snap.LastEPC, snap.LastRSSI, snap.TagReads)
}

func triggerTitle(snap Snapshot) string {
	if snap.Trigger == "" {
		return "Trigger: -"
	}
	return "Trigger: " + string(snap.Trigger)
}

// iconFor picks the tray icon for the session state.
func iconFor(running bool, snap Snapshot) []byte {
	switch {
	case !running:
		return iconDataStopped
	case snap.Inventorying:
		return iconDataInventory
	case snap.Status == rfid.StatusConnected:
		return iconDataConnected
	default:
		return iconData
	}
}

// copyToClipboard copies text to the system clipboard
func copyToClipboard(text string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}

	stdin.Close()
	return cmd.Wait()
}
