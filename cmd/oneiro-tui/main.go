// Command oneiro-tui is a terminal front-end over the session controller.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"oneiro/internal/config"
	"oneiro/internal/controller"
	"oneiro/internal/gateway"
	"oneiro/internal/models"
	"oneiro/internal/store"
	"oneiro/internal/voice"
)

const pollInterval = 250 * time.Millisecond

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	botStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("183"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	inviteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	selectStyle = lipgloss.NewStyle().Reverse(true)
)

type pollMsg struct{}

type actionMsg struct {
	notice string
}

type model struct {
	ctrl *controller.Controller

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model

	snap      controller.Snapshot
	selected  int
	notice    string
	lastInput string
	ready     bool
	width     int
	height    int
}

func newModel(ctrl *controller.Controller) model {
	ti := textinput.New()
	ti.Placeholder = "Опишите ваш сон..."
	ti.Focus()
	ti.CharLimit = 2000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return model{ctrl: ctrl, input: ti, spin: sp, selected: -1}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(poll(), m.spin.Tick)
}

func poll() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-5)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 5
		}
		m.refresh()
		return m, nil

	case pollMsg:
		prev := len(m.snap.Timeline)
		m.snap = m.ctrl.State()
		if m.snap.CaptureNotice != "" {
			m.notice = m.snap.CaptureNotice
		}
		// Capture results land in the controller's input buffer and replace
		// whatever was typed. Only react when the buffer itself changes so
		// polling does not fight local editing.
		if m.snap.Input != m.lastInput {
			m.lastInput = m.snap.Input
			m.input.SetValue(m.snap.Input)
		}
		m.refresh()
		if len(m.snap.Timeline) != prev {
			m.viewport.GotoBottom()
		}
		return m, poll()

	case actionMsg:
		m.notice = msg.notice
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := m.input.Value()
			m.input.SetValue("")
			m.notice = ""
			if strings.HasPrefix(strings.TrimSpace(text), "/register ") {
				return m, m.register(strings.TrimSpace(text))
			}
			return m, m.submit(text)
		case "ctrl+r":
			return m, m.toggleCapture()
		case "ctrl+p":
			return m, m.togglePlayback()
		case "ctrl+l":
			return m, m.logout()
		case "ctrl+b":
			return m, m.payment()
		case "up":
			if m.selected > 0 {
				m.selected--
			} else if m.selected < 0 && len(m.snap.Timeline) > 0 {
				m.selected = len(m.snap.Timeline) - 1
			}
			m.refresh()
			return m, nil
		case "down":
			if m.selected >= 0 && m.selected < len(m.snap.Timeline)-1 {
				m.selected++
			}
			m.refresh()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) submit(text string) tea.Cmd {
	return func() tea.Msg {
		err := m.ctrl.SubmitTurn(context.Background(), text)
		switch {
		case err == nil:
			return actionMsg{}
		case err == controller.ErrTooShort:
			return actionMsg{notice: "Пожалуйста, опишите свой сон немного подробнее. Минимум 10 символов."}
		case err == controller.ErrRegistrationRequired:
			return actionMsg{notice: "Бесплатная попытка использована. Зарегистрируйтесь: /register Имя;Фамилия;ГГГГ-ММ-ДД;телефон"}
		default:
			return actionMsg{notice: err.Error()}
		}
	}
}

func (m model) register(cmdline string) tea.Cmd {
	return func() tea.Msg {
		fields := strings.Split(strings.TrimPrefix(cmdline, "/register "), ";")
		if len(fields) != 4 {
			return actionMsg{notice: "Формат: /register Имя;Фамилия;ГГГГ-ММ-ДД;телефон"}
		}
		var lastName *string
		if trimmed := strings.TrimSpace(fields[1]); trimmed != "" {
			lastName = &trimmed
		}
		_, err := m.ctrl.Register(context.Background(),
			strings.TrimSpace(fields[0]), lastName,
			strings.TrimSpace(fields[2]), strings.TrimSpace(fields[3]))
		if err != nil {
			return actionMsg{notice: err.Error()}
		}
		return actionMsg{notice: "Регистрация завершена!"}
	}
}

func (m model) toggleCapture() tea.Cmd {
	return func() tea.Msg {
		if err := m.ctrl.ToggleCapture(); err != nil {
			if err == voice.ErrNoCapability {
				return actionMsg{notice: "Извините, распознавание речи недоступно."}
			}
			return actionMsg{notice: err.Error()}
		}
		return actionMsg{}
	}
}

func (m model) togglePlayback() tea.Cmd {
	index := m.selected
	return func() tea.Msg {
		if index < 0 {
			return actionMsg{notice: "Выберите сообщение стрелками."}
		}
		if err := m.ctrl.TogglePlayback(index); err != nil {
			if err == voice.ErrNoCapability {
				return actionMsg{notice: "Извините, озвучка текста недоступна."}
			}
			return actionMsg{notice: err.Error()}
		}
		return actionMsg{}
	}
}

func (m model) logout() tea.Cmd {
	return func() tea.Msg {
		if err := m.ctrl.Logout(context.Background()); err != nil {
			return actionMsg{notice: err.Error()}
		}
		return actionMsg{notice: "Вы вышли из аккаунта."}
	}
}

func (m model) payment() tea.Cmd {
	return func() tea.Msg {
		url, err := m.ctrl.RequestPayment(context.Background())
		if err != nil {
			if err == controller.ErrRegistrationRequired {
				return actionMsg{notice: "Оплата доступна после регистрации."}
			}
			return actionMsg{notice: err.Error()}
		}
		return actionMsg{notice: "Ссылка на оплату: " + url}
	}
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	var sb strings.Builder
	for i, msg := range m.snap.Timeline {
		line := renderMessage(msg, m.spin.View(), m.snap.PlayingIndex == i)
		if i == m.selected {
			line = selectStyle.Render(line)
		}
		sb.WriteString(line)
		sb.WriteString("\n\n")
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.width).Render(sb.String()))
}

func renderMessage(msg models.Message, spin string, speaking bool) string {
	if msg.Role == models.RoleUser {
		return userStyle.Render("Вы: ") + msg.Text
	}
	switch msg.Text {
	case models.PendingText:
		return faintStyle.Render(spin + " Сонник печатает...")
	case models.RegisterInviteText:
		return inviteStyle.Render("Понравилось толкование? Зарегистрируйтесь, чтобы продолжить: /register Имя;Фамилия;ГГГГ-ММ-ДД;телефон")
	}
	if models.IsSentinel(msg) {
		return faintStyle.Render(spin + " " + msg.Text)
	}
	prefix := botStyle.Render("Сонник: ")
	if speaking {
		prefix = botStyle.Render("Сонник 🔊: ")
	}
	return prefix + msg.Text
}

func (m model) View() string {
	if !m.ready {
		return "загрузка..."
	}
	title := "ИИ Сонник"
	if m.snap.Identity != nil {
		title += " — " + m.snap.Identity.FirstName
	} else {
		title += " — гость"
	}
	if m.snap.LoadingHistory {
		title += "  " + m.spin.View() + " загрузка истории"
	}

	status := "enter отправить · ctrl+r голос · ctrl+p озвучить · ctrl+l выход · ctrl+b оплата"
	if m.snap.IsRecording {
		status = noticeStyle.Render("● Слушаю...") + "  " + status
	}
	if m.snap.IsGuestBlocked {
		status = noticeStyle.Render("Бесплатная попытка использована") + "  " + status
	}

	notice := ""
	if m.notice != "" {
		notice = noticeStyle.Render(m.notice)
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s\n%s",
		headerStyle.Render(title),
		m.viewport.View(),
		notice,
		m.input.View(),
		faintStyle.Render(status),
	)
}

func main() {
	cfg, err := config.Load(os.Getenv("ONEIRO_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open state store: %v", err)
	}

	recognizer, synthesizer := voice.Engines(cfg.Voice)
	ctrl := controller.New(controller.Options{
		Gateway:        gateway.NewClient(cfg.Gateway.BaseURL, time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second),
		Store:          st,
		Capture:        voice.NewCapture(recognizer),
		Playback:       voice.NewPlayback(synthesizer),
		StatusInterval: time.Duration(cfg.StatusInterval()) * time.Second,
		InvoiceAmount:  cfg.Payment.DefaultAmount,
	})
	defer ctrl.Close()

	identity, err := controller.LoadIdentity(context.Background(), st)
	if err != nil {
		log.Fatalf("load identity: %v", err)
	}
	if err := ctrl.Initialize(context.Background(), identity); err != nil {
		log.Fatalf("initialize session: %v", err)
	}

	if _, err := tea.NewProgram(newModel(ctrl), tea.WithAltScreen()).Run(); err != nil {
		log.Fatalf("tui stopped: %v", err)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch strings.ToLower(cfg.BasicConfig.StateStore) {
	case "", "sqlite", "sqlite3", "mysql":
		dbType := strings.ToLower(cfg.BasicConfig.StateStore)
		if dbType == "" || dbType == "sqlite" {
			dbType = "sqlite3"
		}
		db, err := store.OpenSQL(dbType, cfg)
		if err != nil {
			return nil, err
		}
		return store.NewSQL(db, dbType)
	case "redis":
		return store.NewRedis(cfg)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported state store: %s", cfg.BasicConfig.StateStore)
	}
}
