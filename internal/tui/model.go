// Package tui is an interactive query browser over an ingested namespace.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pdfrag/internal/domain"
	"pdfrag/internal/textutil"
)

// RAGPort is the TUI-facing subset of the retrieval pipeline.
type RAGPort interface {
	Query(ctx context.Context, text, namespace string, k int) ([]domain.Match, error)
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	ctx       context.Context
	service   RAGPort
	namespace string
	topK      int
	title     string
	input     textinput.Model
	viewport  viewport.Model
	results   []domain.Match
	summary   string
	status    string
	cursor    int
	ready     bool
	searching bool
	lastQuery string
}

// Options configure a Model.
type Options struct {
	Namespace string
	TopK      int
	// Title is shown in the header, typically the index name.
	Title string
	// Summary is shown under the header, typically the ingested document's summary.
	Summary string
}

// resultsMsg carries the outcome of an asynchronous query.
type resultsMsg struct {
	query   string
	matches []domain.Match
	err     error
}

// New creates a new TUI model instance.
func New(ctx context.Context, service RAGPort, opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type query and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:       ctx,
		service:   service,
		namespace: opts.Namespace,
		topK:      opts.TopK,
		title:     opts.Title,
		input:     ti,
		viewport:  vp,
		summary:   opts.Summary,
		status:    fmt.Sprintf("Namespace %q. Type to search.", opts.Namespace),
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) query(q string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.service.Query(m.ctx, q, m.namespace, m.topK)
		return resultsMsg{query: q, matches: res, err: err}
	}
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + summary
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := max(msg.Height-reserved, 3)
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case resultsMsg:
		m.searching = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.results = nil
		} else {
			m.status = fmt.Sprintf("%d results for %q", len(msg.matches), msg.query)
			m.results = msg.matches
			m.cursor = 0
			m.lastQuery = msg.query
		}
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.searching {
				m.searching = true
				m.status = fmt.Sprintf("Searching %q...", q)
				return m, m.query(q)
			}
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := "PDF RAG"
	if m.title != "" {
		title += " · " + m.title + "/" + m.namespace
	}
	header := lipgloss.NewStyle().Bold(true).Render(title)
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Result %d/%d  score=%.4f", m.cursor+1, len(m.results), r.Score)
	if src := r.Metadata[domain.MetaSource]; src != "" {
		title += fmt.Sprintf("  %s#%s", src, r.Metadata[domain.MetaChunk])
	}
	body := highlightBestSentence(r.Text(), m.lastQuery)
	return title + "\n\n" + body
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

func highlightBestSentence(text, query string) string {
	sentences := textutil.Sentences(text)
	if len(sentences) == 0 {
		return text
	}
	best := bestSentence(sentences, query)
	if best >= 0 {
		sentences[best] = highlightStyle.Render(sentences[best])
	}
	return strings.Join(sentences, " ")
}

// bestSentence returns the index of the sentence sharing the most distinct
// words with query, or -1 when the query has no words.
func bestSentence(sentences []string, query string) int {
	qTokens := textutil.TokenSet(query)
	if len(qTokens) == 0 {
		return -1
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		score := 0
		for t := range textutil.TokenSet(s) {
			if _, ok := qTokens[t]; ok {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	return bestIdx
}
