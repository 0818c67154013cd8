// Package tui is a terminal browser for one organizational tree. Branches load
// on demand and a machine id can be resolved to its position in the tree.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	models "osmlevels/internal/domain/models/hierarchy"
	svc "osmlevels/internal/domain/services/hierarchy"
	"osmlevels/internal/service/hierarchy"
)

// chrome is the number of lines outside the tree body
const chrome = 4

// Options configures a browser model
type Options struct {
	View     *hierarchy.TreeView
	Resolver svc.PathResolver
	Reports  <-chan string // user-visible errors, may be nil
	PageSize int
}

type (
	openedMsg    struct{ err error }
	refreshedMsg struct{ err error }
	expandedMsg  struct {
		nodeID string
		err    error
	}
	jumpedMsg struct {
		externalID string
		targetID   string
		err        error
	}
	reportMsg string
)

// Model is the bubbletea model of the browser
type Model struct {
	ctx      context.Context
	view     *hierarchy.TreeView
	resolver svc.PathResolver
	reports  <-chan string
	pageSize int

	rows   []hierarchy.Row
	cursor int
	offset int
	width  int
	height int

	search    textinput.Model
	searching bool
	spinner   spinner.Model
	pending   int
	status    string
	failure   string

	keys keyMap
	help help.Model
}

// New creates a browser over an unopened view. Init opens it.
func New(ctx context.Context, opts Options) Model {
	search := textinput.New()
	search.Placeholder = "machine id"
	search.Prompt = "jump to: "
	search.CharLimit = 128

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctx:      ctx,
		view:     opts.View,
		resolver: opts.Resolver,
		reports:  opts.Reports,
		pageSize: opts.PageSize,
		search:   search,
		spinner:  sp,
		pending:  1,
		status:   "opening " + opts.View.TreeID(),
		keys:     defaultKeyMap(),
		help:     help.New(),
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.openCmd(), m.waitForReport())
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.scroll()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case reportMsg:
		m.failure = string(msg)
		return m, m.waitForReport()

	case openedMsg:
		m.done(msg.err)
		m.reload()
		m.status = fmt.Sprintf("%s: %d roots, %s loading", m.view.TreeID(), m.rootCount(), m.view.Strategy())
		return m, nil

	case expandedMsg:
		m.done(msg.err)
		m.reload()
		m.selectID(msg.nodeID)
		return m, nil

	case refreshedMsg:
		m.done(msg.err)
		m.reload()
		if msg.err == nil {
			m.status = "refreshed " + m.view.TreeID()
		}
		return m, nil

	case jumpedMsg:
		m.done(msg.err)
		m.reload()
		if msg.err == nil {
			m.selectID(msg.targetID)
			m.status = "found " + msg.externalID
		}
		return m, nil

	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateTree(msg)
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.endSearch()
		return m, nil
	case tea.KeyEnter:
		externalID := strings.TrimSpace(m.search.Value())
		m.endSearch()
		if externalID == "" {
			return m, nil
		}
		m.pending++
		m.status = "resolving " + externalID
		return m, m.jumpCmd(externalID)
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m Model) updateTree(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		m.move(-1)
	case key.Matches(msg, m.keys.Down):
		m.move(1)
	case key.Matches(msg, m.keys.Top):
		m.move(-len(m.rows))
	case key.Matches(msg, m.keys.Bottom):
		m.move(len(m.rows))
	case key.Matches(msg, m.keys.PageUp):
		m.move(-m.bodyHeight())
	case key.Matches(msg, m.keys.PageDown):
		m.move(m.bodyHeight())
	case key.Matches(msg, m.keys.Toggle):
		node := m.current()
		if node == nil {
			return m, nil
		}
		if node.Expanded {
			m.collapse(node)
			return m, nil
		}
		return m.expand(node)
	case key.Matches(msg, m.keys.Expand):
		node := m.current()
		if node == nil {
			return m, nil
		}
		if node.Expanded {
			m.move(1)
			return m, nil
		}
		return m.expand(node)
	case key.Matches(msg, m.keys.Collapse):
		node := m.current()
		if node == nil {
			return m, nil
		}
		if node.Expanded {
			m.collapse(node)
		} else {
			m.selectID(node.Attributes.ParentID)
		}
	case key.Matches(msg, m.keys.Jump):
		m.searching = true
		cmd := m.search.Focus()
		return m, cmd
	case key.Matches(msg, m.keys.Refresh):
		m.pending++
		m.status = "refreshing " + m.view.TreeID()
		return m, m.refreshCmd()
	case key.Matches(msg, m.keys.Dismiss):
		m.failure = ""
	}
	return m, nil
}

func (m Model) expand(node *models.DisplayNode) (tea.Model, tea.Cmd) {
	if node.State == models.ChildStateLeaf && !node.IsPlaceholder() {
		return m, nil
	}
	m.pending++
	return m, m.expandCmd(node.ExpandTarget())
}

func (m *Model) collapse(node *models.DisplayNode) {
	if err := m.view.Collapse(node.ID); err != nil {
		m.failure = err.Error()
	}
	m.reload()
	m.selectID(node.ID)
}

func (m Model) openCmd() tea.Cmd {
	view, ctx := m.view, m.ctx
	return func() tea.Msg {
		return openedMsg{err: view.Open(ctx)}
	}
}

func (m Model) expandCmd(nodeID string) tea.Cmd {
	view, ctx := m.view, m.ctx
	return func() tea.Msg {
		return expandedMsg{nodeID: nodeID, err: view.Expand(ctx, nodeID)}
	}
}

func (m Model) refreshCmd() tea.Cmd {
	view, ctx := m.view, m.ctx
	return func() tea.Msg {
		return refreshedMsg{err: view.Refresh(ctx)}
	}
}

// jumpCmd resolves externalID and expands every ancestor above it
func (m Model) jumpCmd(externalID string) tea.Cmd {
	view, resolver, ctx := m.view, m.resolver, m.ctx
	req := &svc.ResolvePathRequest{
		TreeID:     view.TreeID(),
		ExternalID: externalID,
		PageSize:   m.pageSize,
	}
	return func() tea.Msg {
		res, err := resolver.ResolvePath(ctx, req)
		if err != nil {
			return jumpedMsg{externalID: externalID, err: err}
		}
		if len(res.Ancestors) == 0 {
			return jumpedMsg{externalID: externalID, err: errors.New("empty path for " + externalID)}
		}
		for _, a := range res.Ancestors[:len(res.Ancestors)-1] {
			if err := view.Expand(ctx, a.ID); err != nil {
				return jumpedMsg{externalID: externalID, err: err}
			}
		}
		return jumpedMsg{externalID: externalID, targetID: res.Ancestors[len(res.Ancestors)-1].ID}
	}
}

func (m Model) waitForReport() tea.Cmd {
	if m.reports == nil {
		return nil
	}
	ch := m.reports
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return reportMsg(msg)
	}
}

func (m *Model) done(err error) {
	if m.pending > 0 {
		m.pending--
	}
	if err != nil {
		m.failure = err.Error()
	}
}

func (m *Model) endSearch() {
	m.searching = false
	m.search.Blur()
	m.search.Reset()
}

func (m *Model) reload() {
	m.rows = hierarchy.VisibleRows(m.view.Snapshot())
	m.move(0)
}

func (m *Model) rootCount() int {
	n := 0
	for _, r := range m.rows {
		if r.Depth == 0 {
			n++
		}
	}
	return n
}

func (m *Model) current() *models.DisplayNode {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return nil
	}
	return m.rows[m.cursor].Node
}

func (m *Model) selectID(id string) {
	for i, r := range m.rows {
		if r.Node.ID == id {
			m.cursor = i
			m.scroll()
			return
		}
	}
}

func (m *Model) move(delta int) {
	m.cursor = max(0, min(m.cursor+delta, len(m.rows)-1))
	m.scroll()
}

func (m *Model) bodyHeight() int {
	if m.height <= chrome {
		return max(len(m.rows), 1)
	}
	return m.height - chrome
}

// scroll keeps the cursor inside the visible window
func (m *Model) scroll() {
	h := m.bodyHeight()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+h {
		m.offset = m.cursor - h + 1
	}
	m.offset = max(0, min(m.offset, len(m.rows)-h))
}

// View implements tea.Model
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("levels · " + m.view.TreeID()))
	b.WriteString("\n")

	if len(m.rows) == 0 && m.pending == 0 {
		b.WriteString(dimStyle.Render("  (empty tree)"))
		b.WriteString("\n")
	}
	end := min(m.offset+m.bodyHeight(), len(m.rows))
	for i := m.offset; i < end; i++ {
		b.WriteString(m.renderRow(i))
		b.WriteString("\n")
	}

	b.WriteString(m.statusLine())
	b.WriteString("\n")
	if m.searching {
		b.WriteString(m.search.View())
	} else {
		b.WriteString(m.help.View(m.keys))
	}
	return b.String()
}

func (m Model) renderRow(i int) string {
	r := m.rows[i]
	n := r.Node

	marker := markerLeaf
	switch {
	case n.IsPlaceholder():
		marker = markerLoading
	case n.Expanded:
		marker = markerExpanded
	case n.Expandable():
		marker = markerCollapsed
	}

	name := n.Name
	if n.IsPlaceholder() {
		name = "loading"
	}
	line := strings.Repeat("  ", r.Depth) + markerStyle.Render(marker) + " " + name
	if n.Attributes.ExternalID != "" {
		line += " " + machineStyle.Render("["+n.Attributes.ExternalID+"]")
	}
	if !n.Expanded && n.Attributes.ChildrenCount > 0 {
		line += " " + dimStyle.Render(fmt.Sprintf("(%d)", n.Attributes.ChildrenCount))
	}

	if i == m.cursor {
		width := m.width
		if width <= 0 {
			width = lipgloss.Width(line)
		}
		return cursorStyle.Width(width).Render(line)
	}
	return line
}

func (m Model) statusLine() string {
	var parts []string
	if m.pending > 0 {
		parts = append(parts, m.spinner.View())
	}
	if m.failure != "" {
		parts = append(parts, errorStyle.Render(m.failure))
	} else if m.status != "" {
		parts = append(parts, statusStyle.Render(m.status))
	}
	return strings.Join(parts, " ")
}
