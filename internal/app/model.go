package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/broadcast"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/coordinator"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/daemon"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

// Focus tracks which area receives key presses.
type Focus int

const (
	FocusControls Focus = iota
	FocusChat
)

// PanelView selects what the session panel shows.
type PanelView int

const (
	ViewSummary PanelView = iota
	ViewTranscript
)

// ChatKind classifies a chat log entry.
type ChatKind int

const (
	ChatQuestion ChatKind = iota
	ChatAnswer
	ChatNotice
	ChatError
)

// ChatEntry is one line of the chat log.
type ChatEntry struct {
	Kind ChatKind
	Text string
}

// Model is the root bubbletea model for the summariser TUI.
type Model struct {
	socketPath string

	// Connection state
	client    *daemon.Client // command connection
	evClient  *daemon.Client // event subscription connection
	connected bool
	connError string

	// Session state
	recording  bool
	state      string
	sessionID  string
	chunkCount int
	summary    string
	transcript string

	// Panel
	panelVisible bool
	panelView    PanelView
	panel        viewport.Model

	// Chat
	input   textinput.Model
	chat    []ChatEntry
	pending int

	// UI state
	focus  Focus
	width  int
	height int

	// Errors
	errorMessage   string
	errorTransient bool

	statusText string

	// Reconnect
	reconnecting     bool
	reconnectAttempt int
}

// New creates a Model that talks to the daemon at socketPath.
func New(socketPath string) Model {
	in := textinput.New()
	in.Placeholder = "Ask about the last meeting…"
	in.CharLimit = 500
	in.Prompt = "› "

	return Model{
		socketPath: socketPath,
		statusText: "Connecting to summariser daemon...",
		state:      "idle",
		input:      in,
		panel:      viewport.New(0, 0),
	}
}

// Init connects to the daemon.
func (m Model) Init() tea.Cmd {
	return connectCmd(m.socketPath)
}

// connectCmd opens the command and event connections.
func connectCmd(sockPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := daemon.Connect(sockPath)
		if err != nil {
			return DaemonConnectErrorMsg{Err: err}
		}
		evClient, err := daemon.Connect(sockPath)
		if err != nil {
			client.Close()
			return DaemonConnectErrorMsg{Err: err}
		}
		return DaemonConnectedMsg{Client: client, EvClient: evClient}
	}
}

// subscribeCmd subscribes the event client and reads the first event.
func subscribeCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := evClient.SendCommand(daemon.Command{Cmd: daemon.CmdSubscribe})
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		if !resp.OK {
			return DaemonEventErrorMsg{Err: fmt.Errorf("subscribe: %s", resp.Error)}
		}
		return readEventCmd(evClient)()
	}
}

func readEventCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		ev, err := evClient.ReadEvent()
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return DaemonEventMsg{Event: ev}
	}
}

func statusCmd(client *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(daemon.Command{Cmd: daemon.CmdStatus})
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return StatusResponseMsg{Response: resp}
	}
}

func startCmd(client *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(daemon.Command{Cmd: daemon.CmdStart})
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return StartResponseMsg{Response: resp}
	}
}

func stopCmd(client *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(daemon.Command{Cmd: daemon.CmdStop})
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return StopResponseMsg{Response: resp}
	}
}

func chatCmd(client *daemon.Client, query string) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(daemon.Command{Cmd: daemon.CmdChat, Query: query})
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return ChatAckMsg{Query: query, Response: resp}
	}
}

// togglePanelCmd tells the daemon the panel was toggled. The reply carries
// nothing the model needs.
func togglePanelCmd(client *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		if _, err := client.SendCommand(daemon.Command{Cmd: daemon.CmdTogglePanel}); err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return nil
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// reconnectCmd schedules a reconnection attempt with exponential backoff.
func reconnectCmd(attempt int) tea.Cmd {
	delay := time.Duration(1<<min(attempt, 4)) * time.Second // 1s, 2s, 4s, 8s, 16s cap
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return ReconnectTickMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(10, msg.Width-4)
		m.resizePanel()
		return m, nil

	case DaemonConnectedMsg:
		m.client = msg.Client
		m.evClient = msg.EvClient
		m.connected = true
		m.connError = ""
		m.reconnecting = false
		m.reconnectAttempt = 0
		m.statusText = "Connected"
		return m, tea.Batch(
			subscribeCmd(m.evClient),
			statusCmd(m.client),
		)

	case DaemonConnectErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		m.reconnecting = true
		m.statusText = "Daemon not running. Reconnecting..."
		return m, reconnectCmd(m.reconnectAttempt)

	case StatusResponseMsg:
		r := msg.Response
		if !r.OK {
			m.errorMessage = r.Error
			return m, nil
		}
		if r.Recording != nil {
			m.recording = *r.Recording
		}
		if r.State != "" {
			m.state = r.State
		}
		if r.Chunks != nil {
			m.chunkCount = *r.Chunks
		}
		if r.SessionID != "" {
			m.sessionID = r.SessionID
		}
		if r.Summary != "" {
			m.summary = r.Summary
			m.transcript = r.Transcript
			m.refreshPanel()
		}
		return m, nil

	case StartResponseMsg:
		r := msg.Response
		if !r.OK {
			m.errorMessage = r.Error
			m.errorTransient = true
			return m, clearTransientErrorCmd()
		}
		m.recording = true
		m.state = "recording"
		m.chunkCount = 0
		if r.SessionID != "" {
			m.sessionID = r.SessionID
		}
		return m, nil

	case StopResponseMsg:
		if !msg.Response.OK {
			m.errorMessage = msg.Response.Error
			m.errorTransient = true
			return m, clearTransientErrorCmd()
		}
		return m, nil

	case ChatAckMsg:
		if !msg.Response.OK {
			m.pending = max(0, m.pending-1)
			m.chat = append(m.chat, ChatEntry{Kind: ChatError, Text: msg.Response.Error})
		}
		return m, nil

	case DaemonEventMsg:
		cmd := m.handleEvent(msg.Event)
		return m, tea.Batch(cmd, readEventCmd(m.evClient))

	case DaemonEventErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		m.statusText = "Disconnected. Reconnecting..."
		m.reconnecting = true
		m.pending = 0
		if m.client != nil {
			m.client.Close()
			m.client = nil
		}
		if m.evClient != nil {
			m.evClient.Close()
			m.evClient = nil
		}
		return m, reconnectCmd(m.reconnectAttempt)

	case ReconnectTickMsg:
		m.reconnectAttempt++
		return m, connectCmd(m.socketPath)

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	if m.focus == FocusChat {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// handleEvent applies a broadcast from the daemon.
func (m *Model) handleEvent(ev daemon.Event) tea.Cmd {
	switch broadcast.Action(ev.Event) {
	case broadcast.ActionUpdateStatus:
		if ev.Status != "" {
			m.statusText = ev.Status
		}
		if ev.ChunkCount != nil {
			m.chunkCount = *ev.ChunkCount
		}
		if ev.Recording != nil {
			m.recording = *ev.Recording
			if m.recording {
				m.state = "recording"
			}
		}
		if ev.SessionID != "" {
			m.sessionID = ev.SessionID
		}
		if ev.Level == broadcast.LevelError {
			m.errorMessage = ev.Status
			m.errorTransient = true
			return clearTransientErrorCmd()
		}

	case broadcast.ActionSummaryReady:
		m.recording = false
		m.state = "idle"
		m.summary = ev.Summary
		m.transcript = ev.Transcript
		if ev.TotalChunks != nil {
			m.chunkCount = *ev.TotalChunks
		}
		if ev.SessionID != "" {
			m.sessionID = ev.SessionID
		}
		if ev.Status != "" {
			m.statusText = ev.Status
		}
		m.panelVisible = true
		m.panelView = ViewSummary
		m.refreshPanel()

	case broadcast.ActionChatResponse:
		m.pending = max(0, m.pending-1)
		switch {
		case ev.Error == coordinator.NoSessionChatResponse:
			m.chat = append(m.chat, ChatEntry{Kind: ChatNotice, Text: ev.Error})
		case ev.Error != "":
			m.chat = append(m.chat, ChatEntry{Kind: ChatError, Text: ev.Error})
		default:
			m.chat = append(m.chat, ChatEntry{Kind: ChatAnswer, Text: ev.Response})
		}

	case broadcast.ActionShowPanel:
		m.panelVisible = true
		m.refreshPanel()
	}

	return nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == KeyCtrlC {
		return m.quit()
	}

	if m.focus == FocusChat {
		switch key {
		case KeyEsc, KeyTab:
			m.focus = FocusControls
			m.input.Blur()
			return m, nil
		case KeyEnter:
			return m.submitChat()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch key {
	case KeyQuit, KeyQuitUpper:
		return m.quit()

	case KeySpace, KeyRecord:
		if !m.connected || m.client == nil {
			return m, nil
		}
		if m.recording {
			return m, stopCmd(m.client)
		}
		return m, startCmd(m.client)

	case KeyPanel, KeyPanelUpper:
		m.panelVisible = !m.panelVisible
		m.refreshPanel()
		if m.connected && m.client != nil {
			return m, togglePanelCmd(m.client)
		}
		return m, nil

	case KeyTranscript, KeyTranscriptU:
		if m.panelView == ViewSummary {
			m.panelView = ViewTranscript
		} else {
			m.panelView = ViewSummary
		}
		m.refreshPanel()
		return m, nil

	case KeyTab, KeyEnter:
		m.focus = FocusChat
		cmd := m.input.Focus()
		return m, cmd

	case KeyUp, KeyK:
		m.panel.LineUp(1)
		return m, nil

	case KeyDown, KeyJ:
		m.panel.LineDown(1)
		return m, nil
	}

	return m, nil
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.client != nil {
		m.client.Close()
	}
	if m.evClient != nil {
		m.evClient.Close()
	}
	return m, tea.Quit
}

// submitChat sends the input line as a chat query.
func (m Model) submitChat() (tea.Model, tea.Cmd) {
	query := strings.TrimSpace(m.input.Value())
	if query == "" {
		return m, nil
	}
	if !m.connected || m.client == nil {
		m.errorMessage = "Not connected to the daemon"
		m.errorTransient = true
		return m, clearTransientErrorCmd()
	}
	m.input.SetValue("")
	m.chat = append(m.chat, ChatEntry{Kind: ChatQuestion, Text: query})
	m.pending++
	return m, chatCmd(m.client, query)
}

// resizePanel sizes the viewport to the space left by the other sections.
func (m *Model) resizePanel() {
	m.panel.Width = max(0, m.width-4)
	m.panel.Height = max(3, m.height/2-2)
	m.refreshPanel()
}

func (m *Model) refreshPanel() {
	text := m.summary
	if m.panelView == ViewTranscript {
		text = m.transcript
	}
	if text == "" {
		text = coordinator.DefaultSummary
	}
	m.panel.SetContent(strings.Join(wrapText(text, max(10, m.panel.Width)), "\n"))
}

// View renders the whole screen.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	if m.panelVisible {
		sections = append(sections, m.renderPanel())
	}
	sections = append(sections, m.renderChat())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	if m.errorMessage != "" {
		sections = append(sections, m.renderErrorBar())
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("MEETING SUMMARISER")
	if m.sessionID != "" {
		title += ui.DimStyle.Render("  session " + truncateToWidth(m.sessionID, 12))
	}
	return title
}

func (m Model) renderStatusBar() string {
	var dot string
	switch {
	case !m.connected:
		dot = ui.IdleDotStyle.Render("○ OFFLINE")
	case m.recording:
		dot = ui.RecordingDotStyle.Render("● REC")
	case m.state != "" && m.state != "idle":
		dot = ui.BusyStyle.Render("◌ " + strings.ToUpper(m.state))
	default:
		dot = ui.IdleDotStyle.Render("○ IDLE")
	}

	chunks := ui.ChunkBadgeStyle.Render(fmt.Sprintf("  chunks %d", m.chunkCount))
	room := m.width - lipgloss.Width(dot+chunks) - 2
	status := ui.StatusStyle.Render("  " + truncateToWidth(m.statusText, room))
	return dot + chunks + status
}

func (m Model) renderPanel() string {
	summaryTitle := ui.PanelTitleStyle.Render("Summary")
	transcriptTitle := ui.PanelTitleStyle.Render("Transcript")
	if m.panelView == ViewSummary {
		summaryTitle = ui.PanelTitleActiveStyle.Render("Summary")
	} else {
		transcriptTitle = ui.PanelTitleActiveStyle.Render("Transcript")
	}
	header := summaryTitle + ui.DimStyle.Render(" | ") + transcriptTitle
	body := lipgloss.JoinVertical(lipgloss.Left, header, m.panel.View())
	return ui.PanelBorderStyle.Width(max(0, m.width-2)).Render(body)
}

func (m Model) renderChat() string {
	width := max(10, m.width-2)
	var lines []string
	for _, e := range m.chat {
		for i, l := range wrapText(e.Text, width-2) {
			prefix := "  "
			if i == 0 && e.Kind == ChatQuestion {
				prefix = "› "
			}
			switch e.Kind {
			case ChatQuestion:
				lines = append(lines, ui.ChatQueryStyle.Render(prefix+l))
			case ChatNotice:
				lines = append(lines, ui.ChatNoticeStyle.Render(prefix+l))
			case ChatError:
				lines = append(lines, ui.ChatErrorStyle.Render(prefix+l))
			default:
				lines = append(lines, ui.ChatAnswerStyle.Render(prefix+l))
			}
		}
	}
	if m.pending > 0 {
		lines = append(lines, ui.DimStyle.Render("  thinking…"))
	}

	// Keep the most recent lines that fit.
	room := m.chatRoom()
	if len(lines) > room {
		lines = lines[len(lines)-room:]
	}

	input := m.input.View()
	if m.focus != FocusChat {
		input = ui.DimStyle.Render(input)
	}
	return strings.Join(append(lines, input), "\n")
}

// chatRoom is how many chat log lines fit on screen.
func (m Model) chatRoom() int {
	used := 6 // header, status, two dividers, input, footer
	if m.panelVisible {
		used += m.panel.Height + 3
	}
	if m.errorMessage != "" {
		used++
	}
	return max(1, m.height-used)
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderFooter() string {
	var parts []string

	if m.focus == FocusChat {
		parts = append(parts, ui.FooterKeyStyle.Render("Enter")+ui.FooterDescStyle.Render(" Ask"))
		parts = append(parts, ui.FooterKeyStyle.Render("Esc")+ui.FooterDescStyle.Render(" Back"))
		return strings.Join(parts, "  ")
	}

	if m.connected {
		if m.recording {
			parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" Stop"))
		} else {
			parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" Record"))
		}
		parts = append(parts, ui.FooterKeyStyle.Render("p")+ui.FooterDescStyle.Render(" Panel"))
		parts = append(parts, ui.FooterKeyStyle.Render("t")+ui.FooterDescStyle.Render(" Summary/Transcript"))
		parts = append(parts, ui.FooterKeyStyle.Render("Tab")+ui.FooterDescStyle.Render(" Chat"))
		parts = append(parts, ui.FooterKeyStyle.Render("↑↓")+ui.FooterDescStyle.Render(" Scroll"))
	}
	parts = append(parts, ui.FooterKeyStyle.Render("q")+ui.FooterDescStyle.Render(" Quit"))

	return strings.Join(parts, "  ")
}

// Helpers

func truncateToWidth(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if len(current)+1+len(word) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
