package app

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deerzone/deerzone/internal/chart"
	"github.com/deerzone/deerzone/internal/chartview"
	"github.com/deerzone/deerzone/internal/config"
	"github.com/deerzone/deerzone/internal/initdata"
	"github.com/deerzone/deerzone/internal/player"
	"github.com/deerzone/deerzone/internal/ui"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMPV sits on the other end of the player's IPC pipe and records every
// command the engine sends.
type fakeMPV struct {
	mu   sync.Mutex
	cmds []string
	conn net.Conn
}

func (f *fakeMPV) readLoop() {
	scanner := bufio.NewScanner(f.conn)
	for scanner.Scan() {
		f.mu.Lock()
		f.cmds = append(f.cmds, scanner.Text())
		f.mu.Unlock()
	}
}

func (f *fakeMPV) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func (f *fakeMPV) waitFor(t *testing.T, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, c := range f.commands() {
			if strings.Contains(c, substr) {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no mpv command containing %q, got %v", substr, f.commands())
}

func startTestPlayer(t *testing.T) (*player.Controller, *fakeMPV) {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	fake := &fakeMPV{conn: serverEnd}
	go fake.readLoop()

	ctrl := player.New(player.Options{
		DisableProcess: true,
		IPCPath:        "test-pipe",
		Logger:         discardLogger(),
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return clientEnd, nil
		},
	})
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(func() {
		_ = ctrl.Shutdown()
		_ = serverEnd.Close()
	})
	return ctrl, fake
}

func newTestModel(t *testing.T, cred string) (Model, *fakeMPV) {
	t.Helper()
	cfg := &config.Config{
		API:  config.APIConfig{BaseURL: "http://127.0.0.1:1", TimeoutMS: 1000},
		Vote: config.VoteConfig{MaxSelection: 3},
	}
	creds := initdata.Static(cred)
	client, err := chart.New(chart.Config{BaseURL: cfg.API.BaseURL}, creds)
	require.NoError(t, err)
	ctrl, fake := startTestPlayer(t)
	m := New(cfg, client, creds, ctrl, nil, ui.NoColor(true), discardLogger())
	return m, fake
}

func updateModel(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok, "Update must return Model")
	return out, cmd
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func testSongs() []chart.Song {
	return []chart.Song{
		{ID: 1, Artist: "Aphex Deer", Title: "Antlers", PreviewURL: "https://cdn.example.com/1.mp3", IsNew: true, WeeksInChart: 1, Source: "new"},
		{ID: 2, Artist: "Maria Vale", Title: "Clearing", PreviewURL: "https://cdn.example.com/2.m4a", WeeksInChart: 3, Source: "carryover"},
		{ID: 3, Artist: "The Herd", Title: "Salt Lick", PreviewURL: "https://youtube.com/watch?v=abc", IsNew: true, WeeksInChart: 1, Source: "new"},
		{ID: 4, Artist: "Bramble", Title: "Night Field", WeeksInChart: 2, Source: "carryover"},
	}
}

// loadedModel seeds the engine with an open week and the full dataset, the
// state reached after a normal startup.
func loadedModel(t *testing.T, cred string) (Model, *fakeMPV) {
	t.Helper()
	m, fake := newTestModel(t, cred)
	m, _ = updateModel(t, m, weekMsg{week: chart.Week{ID: 7, Title: "Week 7", Status: "open"}})
	m, _ = updateModel(t, m, songsMsg{seq: m.fetchSeq, weekID: 7, full: true, songs: testSongs()})
	require.Equal(t, screenChart, m.screen)
	return m, fake
}

func TestSelectionBoundEnforcedThroughKeys(t *testing.T) {
	m, _ := loadedModel(t, "cred")

	// Pick the first three, then try a fourth. The cap is 3.
	for i := 0; i < 3; i++ {
		m, _ = updateModel(t, m, key(" "))
		m, _ = updateModel(t, m, key("j"))
	}
	require.Equal(t, 3, m.selection.Len())

	m, _ = updateModel(t, m, key(" "))
	assert.Equal(t, 3, m.selection.Len(), "fourth pick must be rejected")
	assert.Contains(t, m.notice.text, "at most 3")
}

func TestToggleDropsAPickedSong(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, key(" "))
	require.True(t, m.selection.Has(1))
	m, _ = updateModel(t, m, key(" "))
	assert.False(t, m.selection.Has(1))
	assert.Equal(t, 0, m.selection.Len())
}

func TestDatasetChangePrunesSelection(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, key(" ")) // song 1
	m, _ = updateModel(t, m, key("j"))
	m, _ = updateModel(t, m, key(" ")) // song 2
	require.Equal(t, 2, m.selection.Len())

	// A refreshed dataset no longer contains song 1.
	m, _ = updateModel(t, m, key("R"))
	shrunk := testSongs()[1:]
	m, _ = updateModel(t, m, songsMsg{seq: m.fetchSeq, weekID: 7, full: true, songs: shrunk})

	assert.False(t, m.selection.Has(1), "vanished song must be pruned")
	assert.True(t, m.selection.Has(2), "surviving song must be kept")
}

func TestFilteredFetchNeverPrunes(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, key(" ")) // song 1, a carryover is not in the "new" filter
	require.True(t, m.selection.Has(1))

	m, _ = updateModel(t, m, key("tab")) // TabNew, issues a filtered fetch
	onlyNew := []chart.Song{testSongs()[0], testSongs()[2]}
	m, _ = updateModel(t, m, songsMsg{seq: m.fetchSeq, weekID: 7, full: false, songs: onlyNew})

	assert.True(t, m.selection.Has(1), "narrowed view must not shrink the ballot")
}

func TestRestoreAfterFilteredFetchKeepsBallot(t *testing.T) {
	m, _ := loadedModel(t, "cred")

	// The user narrows the view before the startup ballot restore lands.
	m, _ = updateModel(t, m, key("tab")) // TabNew, filtered fetch in flight
	onlyNew := []chart.Song{testSongs()[0], testSongs()[2]}
	m, _ = updateModel(t, m, songsMsg{seq: m.fetchSeq, weekID: 7, full: false, songs: onlyNew})

	// Song 2 is a carryover: absent from the narrowed response but present
	// in the week's dataset. The restore must prune against the latter.
	m, _ = updateModel(t, m, restoredSelectionMsg{weekID: 7, ids: []int{2}})
	assert.True(t, m.selection.Has(2), "restored pick must survive a narrowed view")
	assert.Len(t, m.songs, len(testSongs()), "dataset must not shrink to a filtered subset")
}

func TestVoteSuccessSettlesToIdle(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, key(" "))
	m, _ = updateModel(t, m, key("v"))
	m, _ = updateModel(t, m, voteResultMsg{receipt: chart.VoteReceipt{WeekID: 7, VotedSongIDs: []int{1}}})
	require.Equal(t, voteSuccess, m.voteState)

	m, _ = updateModel(t, m, clearNoticeMsg{seq: m.noticeSeq})
	assert.Equal(t, voteIdle, m.voteState, "success is transient, not a resting state")
	assert.Empty(t, m.notice.text)
}

func TestStaleFetchIsDropped(t *testing.T) {
	m, _ := loadedModel(t, "cred")

	// Two refreshes in flight; the older response lands last.
	m, _ = updateModel(t, m, key("R"))
	staleSeq := m.fetchSeq
	m, _ = updateModel(t, m, key("R"))
	freshSeq := m.fetchSeq
	require.NotEqual(t, staleSeq, freshSeq)

	fresh := testSongs()[:2]
	m, _ = updateModel(t, m, songsMsg{seq: freshSeq, weekID: 7, full: true, songs: fresh})
	require.Len(t, m.songs, 2)

	stale := testSongs()
	m, _ = updateModel(t, m, songsMsg{seq: staleSeq, weekID: 7, full: true, songs: stale})
	assert.Len(t, m.songs, 2, "superseded fetch must not overwrite the dataset")
}

func TestSearchNarrowsViewLocally(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, key("/"))
	require.True(t, m.searchMode)
	for _, r := range "ari" {
		m, _ = updateModel(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	require.Len(t, m.view, 1)
	assert.Equal(t, "Maria Vale", m.view[0].Artist)

	m, _ = updateModel(t, m, key("esc"))
	assert.False(t, m.searchMode)
	assert.Equal(t, "ari", m.params.Search, "leaving search mode keeps the query")
}

func TestTabCycles(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	require.Equal(t, chartview.TabAll, m.params.Tab)
	m, _ = updateModel(t, m, key("tab"))
	assert.Equal(t, chartview.TabNew, m.params.Tab)
	for _, s := range m.view {
		assert.True(t, s.IsNew)
	}
	m, _ = updateModel(t, m, key("tab"))
	assert.Equal(t, chartview.TabCurrent, m.params.Tab)
	m, _ = updateModel(t, m, key("tab"))
	assert.Equal(t, chartview.TabAll, m.params.Tab)
}

func TestVoteIsSingleFlight(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, key(" "))

	var cmd tea.Cmd
	m, cmd = updateModel(t, m, key("v"))
	require.NotNil(t, cmd, "first submit must fire")
	require.Equal(t, voteSending, m.voteState)

	m, cmd = updateModel(t, m, key("v"))
	assert.Nil(t, cmd, "second submit while sending must be ignored")
	assert.Equal(t, voteSending, m.voteState)
}

func TestVoteGuardEmptySelection(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	var cmd tea.Cmd
	m, cmd = updateModel(t, m, key("v"))
	assert.Nil(t, cmd)
	assert.Equal(t, voteIdle, m.voteState)
	assert.Contains(t, m.notice.text, "at least one")
}

func TestVoteGuardMissingCredential(t *testing.T) {
	m, _ := loadedModel(t, "")
	m, _ = updateModel(t, m, key(" "))
	var cmd tea.Cmd
	m, cmd = updateModel(t, m, key("v"))
	assert.Nil(t, cmd)
	assert.Equal(t, voteIdle, m.voteState)
	assert.Contains(t, m.notice.text, "bot")
}

func TestVoteGuardClosedWeek(t *testing.T) {
	m, _ := newTestModel(t, "cred")
	m, _ = updateModel(t, m, weekMsg{week: chart.Week{ID: 7, Title: "Week 7", Status: "closed"}})
	m, _ = updateModel(t, m, songsMsg{seq: m.fetchSeq, weekID: 7, full: true, songs: testSongs()})
	m, _ = updateModel(t, m, key(" "))
	var cmd tea.Cmd
	m, cmd = updateModel(t, m, key("v"))
	assert.Nil(t, cmd)
	assert.Contains(t, m.notice.text, "closed")
}

func TestVoteErrorKeepsSelection(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, key(" "))
	m, _ = updateModel(t, m, key("v"))
	require.Equal(t, voteSending, m.voteState)

	m, _ = updateModel(t, m, voteResultMsg{err: chart.ErrAlreadyVoted})
	assert.Equal(t, voteError, m.voteState)
	assert.Equal(t, 1, m.selection.Len(), "a failed vote must not touch the ballot")
	assert.Contains(t, m.notice.text, "already voted")
}

func TestVoteSuccessClearsSelection(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, key(" "))
	m, _ = updateModel(t, m, key("v"))

	m, _ = updateModel(t, m, voteResultMsg{receipt: chart.VoteReceipt{WeekID: 7, VotedSongIDs: []int{1}}})
	assert.Equal(t, voteSuccess, m.voteState)
	assert.Equal(t, 0, m.selection.Len())
	assert.Contains(t, m.notice.text, "your vote is in")
}

func TestRetryAfterErrorFiresAgain(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, key(" "))
	m, _ = updateModel(t, m, key("v"))
	m, _ = updateModel(t, m, voteResultMsg{err: chart.ErrNetwork})

	var cmd tea.Cmd
	m, cmd = updateModel(t, m, key("v"))
	assert.NotNil(t, cmd, "after a failure the same ballot must be retryable")
	assert.Equal(t, voteSending, m.voteState)
}

func TestPreviewSingleSlot(t *testing.T) {
	m, fake := loadedModel(t, "cred")

	m, _ = updateModel(t, m, key("p"))
	require.Equal(t, 1, m.previewID)
	fake.waitFor(t, "https://cdn.example.com/1.mp3")

	// Switching songs halts the first clip before loading the second.
	m, _ = updateModel(t, m, key("j"))
	m, _ = updateModel(t, m, key("p"))
	require.Equal(t, 2, m.previewID)
	fake.waitFor(t, `["stop"]`)
	fake.waitFor(t, "https://cdn.example.com/2.m4a")
}

func TestPreviewToggleStops(t *testing.T) {
	m, fake := loadedModel(t, "cred")
	m, _ = updateModel(t, m, key("p"))
	require.Equal(t, 1, m.previewID)

	m, _ = updateModel(t, m, key("p"))
	assert.Equal(t, 0, m.previewID)
	fake.waitFor(t, `["stop"]`)
}

func TestPreviewVideoOpensExternally(t *testing.T) {
	orig := openInBrowser
	openedCh := make(chan string, 1)
	openInBrowser = func(url string) error {
		openedCh <- url
		return nil
	}
	t.Cleanup(func() { openInBrowser = orig })

	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, key("j"))
	m, _ = updateModel(t, m, key("j")) // song 3, a youtube link
	var cmd tea.Cmd
	m, cmd = updateModel(t, m, key("p"))
	require.NotNil(t, cmd)
	assert.Equal(t, 0, m.previewID, "an external clip never occupies the preview slot")

	// The returned command is a batch; run its children without waiting out
	// the notice expiry tick.
	batch, ok := cmd().(tea.BatchMsg)
	require.True(t, ok)
	for _, c := range batch {
		go c()
	}
	select {
	case url := <-openedCh:
		assert.Equal(t, "https://youtube.com/watch?v=abc", url)
	case <-time.After(2 * time.Second):
		t.Fatal("browser open never fired")
	}
}

func TestPreviewMissingSuggestsSearch(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	for i := 0; i < 3; i++ {
		m, _ = updateModel(t, m, key("j"))
	}
	m, _ = updateModel(t, m, key("p")) // song 4 has no preview URL
	assert.Equal(t, 0, m.previewID)
	assert.Contains(t, m.notice.text, "duckduckgo.com")
}

func TestClipEndResetsPreview(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, key("p"))
	require.Equal(t, 1, m.previewID)

	m, _ = updateModel(t, m, playerMsg(player.Event{Ended: true, EndReason: "eof"}))
	assert.Equal(t, 0, m.previewID)
}

func TestStopEventDoesNotEndPreview(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, key("p"))

	// A "stop" end-file arrives when a clip is replaced; it must not clear
	// the slot the replacement just claimed.
	m, _ = updateModel(t, m, playerMsg(player.Event{Ended: false, EndReason: "stop"}))
	assert.Equal(t, 1, m.previewID)
}

func TestNoticeExpiryHonoursReissue(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = m.setNotice(noticeInfo, "first")
	firstSeq := m.noticeSeq
	m, _ = m.setNotice(noticeInfo, "second")

	m, _ = updateModel(t, m, clearNoticeMsg{seq: firstSeq})
	assert.Equal(t, "second", m.notice.text, "expiry of a superseded notice must be ignored")

	m, _ = updateModel(t, m, clearNoticeMsg{seq: m.noticeSeq})
	assert.Empty(t, m.notice.text)
}

func TestRestoredSelectionIsPrunedAndCapped(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, restoredSelectionMsg{weekID: 7, ids: []int{1, 2, 99}})
	assert.True(t, m.selection.Has(1))
	assert.True(t, m.selection.Has(2))
	assert.False(t, m.selection.Has(99), "restored ids outside the dataset must be pruned")
}

func TestRestoredSelectionForOtherWeekIgnored(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, restoredSelectionMsg{weekID: 6, ids: []int{1}})
	assert.Equal(t, 0, m.selection.Len())
}

func TestViewRendersWithoutPanicking(t *testing.T) {
	m, _ := loadedModel(t, "cred")
	m, _ = updateModel(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	m, _ = updateModel(t, m, key(" "))
	out := m.View()
	assert.Contains(t, out, "Aphex Deer")
	assert.Contains(t, out, "1/3 picked")
}
