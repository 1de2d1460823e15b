// Package tui is the terminal surface for a note-taking session.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/loqalabs/loqa-notes/internal/app"
	"github.com/loqalabs/loqa-notes/internal/editor"
	"github.com/loqalabs/loqa-notes/internal/notes"
	"github.com/loqalabs/loqa-notes/internal/view"
)

// Session is the part of app.App the terminal drives.
type Session interface {
	Start(ctx context.Context) error
	Pause() error
	Reset()
	Save(ctx context.Context) (notes.Note, error)
	SetText(text string)
	SubmitLine(ctx context.Context, key editor.Key) (bool, error)
	Listen(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Download(ctx context.Context, id string) error
	Snapshot() app.Snapshot
	Subscribe(fn func()) func()
}

type focus int

const (
	focusText focus = iota
	focusList
)

type keyMap struct {
	Start    key.Binding
	Pause    key.Binding
	Reset    key.Binding
	Save     key.Binding
	Submit   key.Binding
	Focus    key.Binding
	Listen   key.Binding
	Delete   key.Binding
	Download key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Start:    key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "record")),
	Pause:    key.NewBinding(key.WithKeys("ctrl+p"), key.WithHelp("ctrl+p", "pause")),
	Reset:    key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "reset")),
	Save:     key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "save")),
	Submit:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "save line")),
	Focus:    key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch")),
	Listen:   key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "listen")),
	Delete:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	Download: key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "download")),
	Quit:     key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "quit")),
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)
	recordingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	idleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	slidingStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226")).PaddingLeft(2)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	paneStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238"))
	activePane     = paneStyle.BorderForeground(lipgloss.Color("62"))
)

type refreshMsg struct{}

type tickMsg time.Time

// noteItem adapts a row to the list component.
type noteItem struct{ row view.Row }

func (i noteItem) Title() string       { return i.row.ID }
func (i noteItem) Description() string { return firstLine(i.row.Body, 60) }
func (i noteItem) FilterValue() string { return i.row.Body }

type Model struct {
	ctx     context.Context
	session Session

	text   textarea.Model
	notes  list.Model
	focus  focus
	snap   app.Snapshot
	synced string
	err    error
	width  int
	height int
}

func New(ctx context.Context, session Session) Model {
	ta := textarea.New()
	ta.Placeholder = "Dictate with ctrl+r or type here..."
	ta.ShowLineNumbers = false
	ta.SetHeight(5)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	l := list.New(nil, list.NewDefaultDelegate(), 40, 12)
	l.Title = "NOTES"
	l.Styles.Title = titleStyle
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()

	m := Model{ctx: ctx, session: session, text: ta, notes: l}
	m.sync()
	return m
}

// Run drives session from the terminal until the user quits or ctx ends.
func Run(ctx context.Context, session Session) error {
	p := tea.NewProgram(New(ctx, session), tea.WithAltScreen(), tea.WithContext(ctx))
	// Send blocks until the event loop reads; updates posted from inside
	// Update must not wait on it.
	stop := session.Subscribe(func() { go p.Send(refreshMsg{}) })
	defer stop()
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.text.SetWidth(max(20, msg.Width-4))
		m.notes.SetSize(max(20, msg.Width-4), max(5, msg.Height-16))
		return m, nil
	case refreshMsg:
		m.sync()
		return m, nil
	case tickMsg:
		m.sync()
		return m, tick()
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	if m.focus == focusText {
		m.text, cmd = m.text.Update(msg)
	}
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Start):
		m.err = m.session.Start(m.ctx)
	case key.Matches(msg, keys.Pause):
		m.err = m.session.Pause()
	case key.Matches(msg, keys.Reset):
		m.session.Reset()
	case key.Matches(msg, keys.Save):
		_, m.err = m.session.Save(m.ctx)
	case key.Matches(msg, keys.Focus):
		m.toggleFocus()
	case m.focus == focusText && key.Matches(msg, keys.Submit):
		m.session.SetText(m.text.Value())
		_, m.err = m.session.SubmitLine(m.ctx, editor.Key{Name: editor.KeyEnter})
	case m.focus == focusText:
		var cmd tea.Cmd
		m.text, cmd = m.text.Update(msg)
		if v := m.text.Value(); v != m.synced {
			m.session.SetText(v)
			m.synced = v
		}
		return m, cmd
	case key.Matches(msg, keys.Listen, keys.Delete, keys.Download):
		m.err = m.rowAction(msg)
	default:
		var cmd tea.Cmd
		m.notes, cmd = m.notes.Update(msg)
		return m, cmd
	}
	m.sync()
	return m, nil
}

func (m *Model) toggleFocus() {
	if m.focus == focusText {
		m.focus = focusList
		m.text.Blur()
		return
	}
	m.focus = focusText
	m.text.Focus()
}

func (m Model) rowAction(msg tea.KeyMsg) error {
	item, ok := m.notes.SelectedItem().(noteItem)
	if !ok {
		return nil
	}
	id := item.row.ID
	switch {
	case key.Matches(msg, keys.Listen):
		return m.session.Listen(m.ctx, id)
	case key.Matches(msg, keys.Delete):
		return m.session.Delete(m.ctx, id)
	default:
		return m.session.Download(m.ctx, id)
	}
}

// sync pulls the session snapshot into the widgets. The text area is only
// overwritten when the session's text changed underneath it.
func (m *Model) sync() {
	m.snap = m.session.Snapshot()
	if m.snap.Text != m.synced {
		m.text.SetValue(m.snap.Text)
		m.synced = m.snap.Text
	}
	items := make([]list.Item, len(m.snap.Page.Rows))
	for i, row := range m.snap.Page.Rows {
		items[i] = noteItem{row: row}
	}
	m.notes.SetItems(items)
}

func (m Model) View() string {
	var b strings.Builder

	state := idleStyle.Render("○ idle")
	if m.snap.State == "recording" {
		state = recordingStyle.Render("● recording")
	}
	if !m.snap.Available {
		state = mutedStyle.Render("speech unavailable")
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, titleStyle.Render("loqa notes"), " ", state))
	b.WriteString("\n")

	st := statusStyle
	if m.snap.Status.Sliding {
		st = slidingStyle
	}
	b.WriteString(st.Render(m.snap.Status.Text))
	b.WriteString("\n")

	textPane, listPane := activePane, paneStyle
	if m.focus == focusList {
		textPane, listPane = paneStyle, activePane
	}
	b.WriteString(textPane.Render(m.text.View()))
	b.WriteString("\n")

	if m.snap.Page.Empty() {
		b.WriteString(listPane.Render(mutedStyle.Render(m.snap.Page.Placeholder)))
	} else {
		b.WriteString(listPane.Render(m.notes.View()))
	}
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(mutedStyle.Render(helpLine()))
	return b.String()
}

func helpLine() string {
	bindings := []key.Binding{keys.Start, keys.Pause, keys.Reset, keys.Save, keys.Submit, keys.Focus, keys.Listen, keys.Delete, keys.Download, keys.Quit}
	parts := make([]string, len(bindings))
	for i, k := range bindings {
		h := k.Help()
		parts[i] = fmt.Sprintf("%s %s", h.Key, h.Desc)
	}
	return strings.Join(parts, " • ")
}

func firstLine(s string, limit int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return s
}
