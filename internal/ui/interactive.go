package ui

import (
	"context"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/kbsearch/internal/search"
)

// SearchFunc runs one query.
type SearchFunc func(ctx context.Context, query string) (*search.Response, error)

// resultMsg carries a finished search back into the update loop.
type resultMsg struct {
	query string
	resp  *search.Response
	err   error
}

// InteractiveModel is a bubbletea model: a query prompt over the last result.
type InteractiveModel struct {
	ctx      context.Context
	search   SearchFunc
	renderer *Renderer

	input   textinput.Model
	spinner spinner.Model

	searching bool
	lastQuery string
	output    string
	searches  int
	quitting  bool
}

// NewInteractiveModel creates the interactive search model.
func NewInteractiveModel(ctx context.Context, fn SearchFunc, renderer *Renderer) InteractiveModel {
	ti := textinput.New()
	ti.Placeholder = "キャンセル料はいくらですか"
	ti.Prompt = "search> "
	ti.CharLimit = 256
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	return InteractiveModel{
		ctx:      ctx,
		search:   fn,
		renderer: renderer,
		input:    ti,
		spinner:  sp,
	}
}

// Init implements tea.Model.
func (m InteractiveModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m InteractiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			query := strings.TrimSpace(m.input.Value())
			if query == "" || m.searching {
				return m, nil
			}
			m.searching = true
			m.lastQuery = query
			return m, tea.Batch(m.spinner.Tick, m.runSearch(query))
		}

	case resultMsg:
		m.searching = false
		m.searches++
		if msg.err != nil {
			m.output = m.renderer.FormatError(msg.err)
		} else {
			m.output = m.renderer.FormatResponse(msg.resp)
		}
		m.input.SetValue("")
		return m, nil

	case spinner.TickMsg:
		if !m.searching {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m InteractiveModel) runSearch(query string) tea.Cmd {
	ctx, fn := m.ctx, m.search
	return func() tea.Msg {
		resp, err := fn(ctx, query)
		return resultMsg{query: query, resp: resp, err: err}
	}
}

// View implements tea.Model.
func (m InteractiveModel) View() string {
	if m.quitting {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(m.input.View())
	sb.WriteString("\n")
	if m.searching {
		sb.WriteString(m.spinner.View())
		sb.WriteString(" searching ")
		sb.WriteString(m.lastQuery)
		sb.WriteString("\n")
	} else if m.output != "" {
		sb.WriteString("\n")
		sb.WriteString(m.output)
	}
	sb.WriteString(m.renderer.styles.Dim.Render("enter: search  esc: quit"))
	sb.WriteString("\n")
	return sb.String()
}

// Searches returns how many searches completed.
func (m InteractiveModel) Searches() int { return m.searches }

// RunInteractive runs the prompt until the user quits or ctx is done.
func RunInteractive(ctx context.Context, fn SearchFunc, renderer *Renderer, in io.Reader, out io.Writer) error {
	model := NewInteractiveModel(ctx, fn, renderer)
	p := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
