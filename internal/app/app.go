package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/deerzone/deerzone/internal/chart"
	"github.com/deerzone/deerzone/internal/chartview"
	"github.com/deerzone/deerzone/internal/config"
	"github.com/deerzone/deerzone/internal/initdata"
	"github.com/deerzone/deerzone/internal/player"
	"github.com/deerzone/deerzone/internal/preview"
	"github.com/deerzone/deerzone/internal/ui"
)

type screen int

const (
	screenLoading screen = iota
	screenChart
	screenResults
	screenSummary
)

type voteState int

const (
	voteIdle voteState = iota
	voteSending
	voteSuccess
	voteError
)

type noticeKind int

const (
	noticeInfo noticeKind = iota
	noticeSuccess
	noticeError
)

// noticeTTL is how long a transient notice stays on screen before expiring.
const noticeTTL = 3 * time.Second

type notice struct {
	kind noticeKind
	text string
}

// Model is the chart view and voting engine. It owns the selection set, the
// vote submission, and the single preview playback; the rendering below
// only reads derived state.
type Model struct {
	cfg    *config.Config
	client *chart.Client
	creds  initdata.Provider
	player *player.Controller
	store  *chartview.Store
	theme  ui.Theme
	logger *slog.Logger

	screen screen
	status string

	week      chart.Week
	songs     []chart.Song // the fetched dataset; selection is keyed on it
	view      []chart.Song // derived display list
	params    chartview.Params
	selection *chartview.Selection

	// fetchSeq guards against stale song fetches: each fetch captures the
	// sequence at issue time and results with an older one are dropped.
	fetchSeq int

	voteState voteState

	results []chart.Result
	summary chart.Summary

	// previewID is the song whose preview is loaded; 0 means none.
	previewID  int
	previewPos float64
	previewDur float64

	notice    notice
	noticeSeq int

	searchMode bool
	cursor     int
	width      int
	height     int
	showHelp   bool
	fatalErr   error
}

// New builds the engine. store may be nil when selection persistence is
// disabled; logger may be nil.
func New(cfg *config.Config, client *chart.Client, creds initdata.Provider, ctrl *player.Controller, store *chartview.Store, theme ui.Theme, logger *slog.Logger) Model {
	if logger == nil {
		logger = slog.Default()
	}
	return Model{
		cfg:       cfg,
		client:    client,
		creds:     creds,
		player:    ctrl,
		store:     store,
		theme:     theme,
		logger:    logger,
		screen:    screenLoading,
		status:    "Loading…",
		selection: chartview.NewSelection(cfg.Vote.MaxSelection),
	}
}

type weekMsg struct {
	week chart.Week
	err  error
}

type songsMsg struct {
	seq    int
	weekID int
	// full marks an unfiltered fetch of the week's dataset; only those may
	// prune the selection. Filtered fetches are a display optimization.
	full  bool
	songs []chart.Song
	err   error
}

type restoredSelectionMsg struct {
	weekID int
	ids    []int
}

type voteResultMsg struct {
	receipt chart.VoteReceipt
	err     error
}

type resultsMsg struct {
	rows []chart.Result
	err  error
}

type summaryMsg struct {
	summary chart.Summary
	err     error
}

type previewOpenedMsg struct {
	err error
}

type clearNoticeMsg struct {
	seq int
}

type playerMsg player.Event

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadWeekCmd(), m.watchPlayerCmd())
}

func (m Model) loadWeekCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		week, err := m.client.CurrentWeek(ctx)
		return weekMsg{week: week, err: err}
	}
}

// loadSongsCmd captures the fetch sequence so a superseded response can be
// recognized and dropped on arrival.
func (m Model) loadSongsCmd(seq int, weekID int, q chart.SongQuery, full bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		songs, err := m.client.Songs(ctx, weekID, q)
		return songsMsg{seq: seq, weekID: weekID, full: full, songs: songs, err: err}
	}
}

func (m Model) restoreSelectionCmd(weekID int) tea.Cmd {
	if m.store == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		ids, err := m.store.Load(ctx, weekID)
		if err != nil {
			// A missing ballot is not worth a notice.
			return nil
		}
		return restoredSelectionMsg{weekID: weekID, ids: ids}
	}
}

func (m Model) persistSelectionCmd() tea.Cmd {
	if m.store == nil {
		return nil
	}
	weekID := m.week.ID
	ids := m.selection.IDs()
	logger := m.logger
	store := m.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.Save(ctx, weekID, ids); err != nil {
			logger.Warn("persist selection", slog.Any("err", err))
		}
		return nil
	}
}

func (m Model) submitVoteCmd(weekID int, ids []int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		receipt, err := m.client.Vote(ctx, weekID, ids)
		return voteResultMsg{receipt: receipt, err: err}
	}
}

func (m Model) loadResultsCmd(weekID int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		rows, err := m.client.Results(ctx, weekID)
		return resultsMsg{rows: rows, err: err}
	}
}

func (m Model) loadSummaryCmd(weekID int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		summary, err := m.client.Summary(ctx, weekID)
		return summaryMsg{summary: summary, err: err}
	}
}

func (m Model) watchPlayerCmd() tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-m.player.Events()
		if !ok {
			return nil
		}
		return playerMsg(evt)
	}
}

func (m Model) clearNoticeCmd(seq int) tea.Cmd {
	return tea.Tick(noticeTTL, func(time.Time) tea.Msg {
		return clearNoticeMsg{seq: seq}
	})
}

// setNotice replaces the current notice and restarts its expiry timer. An
// expiry for a superseded notice is ignored, so a fresh notice always gets
// the full TTL.
func (m Model) setNotice(kind noticeKind, text string) (Model, tea.Cmd) {
	m.noticeSeq++
	m.notice = notice{kind: kind, text: text}
	return m, m.clearNoticeCmd(m.noticeSeq)
}

func (m Model) setError(err error) (Model, tea.Cmd) {
	return m.setNotice(noticeError, errorMessage(err, m.selection.Max()))
}

// errorMessage renders the error taxonomy as short human-readable text.
func errorMessage(err error, maxSelection int) string {
	switch {
	case chart.IsUnauthenticated(err):
		return "your session was not accepted — reopen the chart from the #deerzone bot"
	case chart.IsAccessDenied(err):
		return "voting is closed for this week"
	case chart.IsAlreadyVoted(err):
		return "you already voted this week"
	case chart.IsTooManySongs(err):
		return fmt.Sprintf("the chart takes at most %d songs per vote", maxSelection)
	case chart.IsNotFound(err):
		return "that week is gone from the chart"
	case chart.IsNotJSON(err):
		return "the chart API returned something unreadable"
	case chart.IsNetwork(err):
		return "network trouble — check your connection and retry"
	default:
		return err.Error()
	}
}

// refetchSongs bumps the sequence and issues a song fetch for the current
// params. full fetches (no server-side narrowing) refresh the dataset.
func (m Model) refetchSongs(full bool) (Model, tea.Cmd) {
	m.fetchSeq++
	q := chart.SongQuery{Filter: "all"}
	if !full {
		if m.params.Tab == chartview.TabNew {
			q.Filter = "new"
		}
		q.Search = strings.TrimSpace(m.params.Search)
	}
	return m, m.loadSongsCmd(m.fetchSeq, m.week.ID, q, full)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case weekMsg:
		if msg.err != nil {
			m.fatalErr = msg.err
			m.status = "Failed to reach the chart"
			return m, nil
		}
		m.week = msg.week
		m.status = msg.week.Title
		var cmd tea.Cmd
		m, cmd = m.refetchSongs(true)
		return m, tea.Batch(cmd, m.restoreSelectionCmd(msg.week.ID))

	case songsMsg:
		if msg.seq != m.fetchSeq {
			// A newer fetch has been issued since; latest wins.
			return m, nil
		}
		if msg.err != nil {
			return m.setError(msg.err)
		}
		if msg.full {
			m.songs = msg.songs
			m.selection.Prune(songIDs(msg.songs))
			m.view = chartview.Derive(m.songs, m.params)
		} else {
			// A server-narrowed response refreshes the display only. The
			// dataset, and the ballot keyed against it, change on full
			// fetches alone.
			m.view = chartview.Derive(msg.songs, m.params)
		}
		m.clampCursor()
		if m.screen == screenLoading {
			m.screen = screenChart
		}
		m.status = fmt.Sprintf("%s — %d songs", m.week.Title, len(m.view))
		return m, nil

	case restoredSelectionMsg:
		if msg.weekID != m.week.ID || len(msg.ids) == 0 {
			return m, nil
		}
		m.selection.Replace(msg.ids)
		if len(m.songs) > 0 {
			m.selection.Prune(songIDs(m.songs))
		}
		return m.setNotice(noticeInfo, fmt.Sprintf("restored %d picks from last time", m.selection.Len()))

	case voteResultMsg:
		return m.handleVoteResult(msg)

	case resultsMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.results = msg.rows
		m.screen = screenResults
		return m, nil

	case summaryMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.summary = msg.summary
		m.screen = screenSummary
		return m, nil

	case previewOpenedMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		return m, nil

	case playerMsg:
		return m.handlePlayerEvent(msg)

	case clearNoticeMsg:
		if msg.seq == m.noticeSeq {
			m.notice = notice{}
			// The submission machine settles back to idle once its
			// outcome notice has run out.
			if m.voteState == voteSuccess || m.voteState == voteError {
				m.voteState = voteIdle
			}
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.searchMode {
		return m.handleSearchKey(msg)
	}
	switch msg.String() {
	case "ctrl+c", "q":
		// No orphaned background audio after the view goes away.
		m.stopPreview()
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	case "tab":
		if m.screen != screenChart {
			m.screen = screenChart
			return m, nil
		}
		m.params.Tab = m.params.Tab.Next()
		m.view = chartview.Derive(m.songs, m.params)
		m.clampCursor()
		var cmd tea.Cmd
		m, cmd = m.refetchSongs(false)
		return m, cmd
	case "/":
		m.screen = screenChart
		m.searchMode = true
		return m, nil
	case "j", "down":
		if m.cursor < len(m.currentList())-1 {
			m.cursor++
		}
		return m, nil
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case " ":
		return m.toggleSelected()
	case "enter", "p":
		return m.togglePreview()
	case "v":
		return m.submitVote()
	case "r":
		if m.week.ID != 0 {
			return m, m.loadResultsCmd(m.week.ID)
		}
		return m, nil
	case "A":
		if m.week.ID != 0 {
			return m, m.loadSummaryCmd(m.week.ID)
		}
		return m, nil
	case "R":
		if m.week.ID != 0 {
			var cmd tea.Cmd
			m, cmd = m.refetchSongs(true)
			return m, cmd
		}
		return m, nil
	case "esc":
		if m.screen != screenChart {
			m.screen = screenChart
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "enter":
		m.searchMode = false
		return m, nil
	case "ctrl+c":
		m.stopPreview()
		return m, tea.Quit
	case "backspace":
		if m.params.Search != "" {
			runes := []rune(m.params.Search)
			m.params.Search = string(runes[:len(runes)-1])
		}
	default:
		if len(msg.Runes) > 0 {
			m.params.Search += string(msg.Runes)
		} else {
			return m, nil
		}
	}
	m.view = chartview.Derive(m.songs, m.params)
	m.clampCursor()
	var cmd tea.Cmd
	m, cmd = m.refetchSongs(false)
	return m, cmd
}

func (m Model) toggleSelected() (tea.Model, tea.Cmd) {
	if m.screen != screenChart || len(m.view) == 0 {
		return m, nil
	}
	song := m.view[clamp(m.cursor, 0, len(m.view)-1)]
	if err := m.selection.Toggle(song.ID); err != nil {
		return m.setNotice(noticeError,
			fmt.Sprintf("you can pick at most %d songs — drop one first", m.selection.Max()))
	}
	return m, m.persistSelectionCmd()
}

// submitVote runs the local guards and, when they pass, moves the machine
// to sending. Guards never touch the network and never alter the selection.
func (m Model) submitVote() (tea.Model, tea.Cmd) {
	if m.voteState == voteSending {
		// Single-flight: the in-flight submission must resolve first.
		return m, nil
	}
	if m.selection.Len() == 0 {
		return m.setNotice(noticeError, "pick at least one song before voting")
	}
	if m.selection.Len() > m.selection.Max() {
		return m.setNotice(noticeError,
			fmt.Sprintf("the chart takes at most %d songs per vote", m.selection.Max()))
	}
	if m.creds.Credential() == "" {
		return m.setNotice(noticeError, "open the chart from the #deerzone bot to vote")
	}
	if m.week.ID != 0 && !m.week.Open() {
		return m.setNotice(noticeError, "voting is closed for this week")
	}
	m.voteState = voteSending
	return m, m.submitVoteCmd(m.week.ID, m.selection.IDs())
}

func (m Model) handleVoteResult(msg voteResultMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		// Selection stays untouched so the user can retry as-is.
		m.voteState = voteError
		m.logger.Warn("vote rejected", slog.Any("err", msg.err))
		return m.setError(msg.err)
	}
	m.voteState = voteSuccess
	m.selection.Clear()
	var persist tea.Cmd
	if m.store != nil {
		weekID := m.week.ID
		store := m.store
		persist = func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = store.Clear(ctx, weekID)
			return nil
		}
	}
	m.logger.Info("vote accepted",
		slog.Int("week_id", msg.receipt.WeekID),
		slog.Int("songs", len(msg.receipt.VotedSongIDs)))
	var noticeCmd tea.Cmd
	m, noticeCmd = m.setNotice(noticeSuccess, "your vote is in — see you next week")
	return m, tea.Batch(noticeCmd, persist)
}

// togglePreview starts, stops, or switches the single preview slot for the
// highlighted song.
func (m Model) togglePreview() (tea.Model, tea.Cmd) {
	if m.screen != screenChart || len(m.view) == 0 {
		return m, nil
	}
	song := m.view[clamp(m.cursor, 0, len(m.view)-1)]

	if m.previewID == song.ID {
		m.stopPreview()
		m.previewID = 0
		m.previewPos, m.previewDur = 0, 0
		return m, nil
	}

	action := preview.Resolve(song)
	switch action.Kind {
	case preview.PlayStream:
		if m.previewID != 0 {
			_ = m.player.Halt()
		}
		if err := m.player.Load(action.URL); err != nil {
			return m.setError(err)
		}
		m.previewID = song.ID
		m.previewPos, m.previewDur = 0, 0
		return m, nil
	case preview.OpenExternal:
		url := action.URL
		var cmd tea.Cmd = func() tea.Msg {
			return previewOpenedMsg{err: openInBrowser(url)}
		}
		var noticeCmd tea.Cmd
		m, noticeCmd = m.setNotice(noticeInfo, "opening the clip in your browser")
		return m, tea.Batch(noticeCmd, cmd)
	default:
		return m.setNotice(noticeInfo,
			"no preview for this one — try "+preview.SearchURL(song.Artist, song.Title))
	}
}

func (m *Model) stopPreview() {
	if m.previewID != 0 {
		_ = m.player.Halt()
	}
}

func (m Model) handlePlayerEvent(msg playerMsg) (tea.Model, tea.Cmd) {
	if msg.TimePos != nil {
		m.previewPos = *msg.TimePos
	}
	if msg.Duration != nil {
		m.previewDur = *msg.Duration
	}
	if msg.Err != nil {
		var cmd tea.Cmd
		m, cmd = m.setNotice(noticeError, "preview playback failed")
		m.logger.Warn("player event", slog.Any("err", msg.Err))
		return m, tea.Batch(cmd, m.watchPlayerCmd())
	}
	if msg.Ended {
		// Natural end of the clip; the control flips back to stopped.
		m.previewID = 0
		m.previewPos, m.previewDur = 0, 0
	}
	return m, m.watchPlayerCmd()
}

func (m Model) currentList() []chart.Song {
	if m.screen == screenChart {
		return m.view
	}
	return nil
}

func (m *Model) clampCursor() {
	if m.cursor > len(m.view)-1 {
		m.cursor = len(m.view) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func songIDs(songs []chart.Song) []int {
	ids := make([]int, len(songs))
	for i, s := range songs {
		ids[i] = s.ID
	}
	return ids
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func (m Model) View() string {
	if m.fatalErr != nil {
		return m.renderFatalError()
	}
	if m.showHelp {
		return m.renderHelp()
	}
	var main string
	switch m.screen {
	case screenLoading:
		main = m.theme.Title.Render("Loading… " + m.status)
	case screenChart:
		main = m.renderChart()
	case screenResults:
		main = m.renderResults()
	case screenSummary:
		main = m.renderSummary()
	}
	top := lipgloss.NewStyle().Bold(true).Render("#deerzone ▸ " + m.screenTitle())
	statusLine := m.theme.Dim.Render(m.status)
	if m.notice.text != "" {
		switch m.notice.kind {
		case noticeError:
			statusLine = m.theme.Error.Render(m.notice.text)
		case noticeSuccess:
			statusLine = m.theme.Success.Render(m.notice.text)
		default:
			statusLine = m.theme.Warning.Render(m.notice.text)
		}
	}
	bottom := m.renderVoteBar()
	return lipgloss.JoinVertical(lipgloss.Left, top, main, statusLine, bottom)
}

func (m Model) renderFatalError() string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
		m.theme.Border.Render(
			lipgloss.JoinVertical(lipgloss.Center,
				m.theme.Error.Render("Cannot reach the chart"),
				"",
				m.theme.Text.Render(m.fatalErr.Error()),
				"",
				m.theme.Dim.Render("Press Ctrl+C to quit"),
			),
		),
	)
}

func (m Model) renderChart() string {
	var b strings.Builder
	header := fmt.Sprintf("Tab: %s", m.params.Tab)
	if m.params.Search != "" || m.searchMode {
		caret := ""
		if m.searchMode {
			caret = "▏"
		}
		header += fmt.Sprintf("   Search: %s%s", m.params.Search, caret)
	}
	b.WriteString(m.theme.Title.Render(header) + "\n")

	if len(m.view) == 0 {
		b.WriteString(m.theme.Dim.Render("Nothing here — try another tab or search.") + "\n")
		return b.String()
	}
	for i, s := range m.view {
		prefix := "  "
		if i == m.cursor {
			prefix = "⏵ "
		}
		mark := "[ ]"
		if m.selection.Has(s.ID) {
			mark = "[✓]"
		}
		line := fmt.Sprintf("%s%s %s — %s", prefix, mark, s.Artist, s.Title)
		var badges []string
		if s.IsNew {
			badges = append(badges, m.theme.Accent.Render("NEW"))
		} else if s.WeeksInChart > 1 {
			badges = append(badges, m.theme.Dim.Render(fmt.Sprintf("wk %d", s.WeeksInChart)))
		}
		if s.ID == m.previewID {
			badge := "♪"
			if m.previewDur > 0 {
				badge = fmt.Sprintf("♪ %d:%02d", int(m.previewPos)/60, int(m.previewPos)%60)
			}
			badges = append(badges, m.theme.Highlight.Render(badge))
		}
		if len(badges) > 0 {
			line += "  " + strings.Join(badges, " ")
		}
		if i == m.cursor {
			b.WriteString(m.theme.Highlight.Render(line) + "\n")
		} else {
			b.WriteString(m.theme.Text.Render(line) + "\n")
		}
	}
	return b.String()
}

func (m Model) renderResults() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render(fmt.Sprintf("Results — %s", m.week.Title)) + "\n")
	if len(m.results) == 0 {
		b.WriteString(m.theme.Dim.Render("No votes yet.") + "\n")
		return b.String()
	}
	byID := make(map[int]chart.Song, len(m.songs))
	for _, s := range m.songs {
		byID[s.ID] = s
	}
	for _, row := range m.results {
		name := fmt.Sprintf("song %d", row.SongID)
		if s, ok := byID[row.SongID]; ok {
			name = fmt.Sprintf("%s — %s", s.Artist, s.Title)
		}
		b.WriteString(m.theme.Text.Render(fmt.Sprintf("%4d  %s", row.Votes, name)) + "\n")
	}
	return b.String()
}

func (m Model) renderSummary() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render(fmt.Sprintf("Vote summary — week %d (%d songs)",
		m.summary.WeekID, m.summary.TotalSongs)) + "\n")
	for _, row := range m.summary.Rows {
		flags := row.Source
		if row.IsNew {
			flags = "new"
		}
		b.WriteString(m.theme.Text.Render(fmt.Sprintf("%4d  %s — %s  (%s, wk %d)",
			row.Votes, row.Artist, row.Title, flags, row.WeeksInChart)) + "\n")
	}
	return b.String()
}

func (m Model) renderHelp() string {
	lines := []string{
		m.theme.Title.Render("Help"),
		"",
		m.theme.Accent.Render("Chart"),
		"  tab           : Cycle tabs (all/new/current)",
		"  /             : Search; esc/enter to stop typing",
		"  j / k         : Move down / up",
		"  space         : Pick or drop the song for your vote",
		"  v             : Cast your vote",
		"  enter / p     : Preview the song (again to stop)",
		"",
		m.theme.Accent.Render("Screens"),
		"  r             : Vote results",
		"  A             : Admin vote summary (needs admin token)",
		"  R             : Reload the chart",
		"  esc           : Back to the chart",
		"",
		m.theme.Accent.Render("Global"),
		"  ?             : Toggle help",
		"  q / ctrl+c    : Quit",
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderVoteBar() string {
	state := ""
	switch m.voteState {
	case voteSending:
		state = "  sending…"
	case voteSuccess:
		state = "  ✓ voted"
	}
	cred := ""
	if m.creds.Credential() == "" {
		cred = "  (browsing only — open from the bot to vote)"
	}
	return fmt.Sprintf("%d/%d picked%s%s", m.selection.Len(), m.selection.Max(), state, cred)
}

func (m Model) screenTitle() string {
	switch m.screen {
	case screenLoading:
		return "Loading"
	case screenChart:
		return "Chart"
	case screenResults:
		return "Results"
	case screenSummary:
		return "Summary"
	default:
		return ""
	}
}
