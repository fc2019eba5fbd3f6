package chart

// Week identifies a voting period. Status is "open" or "closed"; the API
// refuses votes for a closed week.
type Week struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// Open reports whether the voting window is accepting votes.
func (w Week) Open() bool { return w.Status == "open" }

// Song is one chart entry as returned by the API. Cover and PreviewURL may
// be empty. Source is a free-text provenance tag; the value "carryover"
// marks a song retained from the previous week.
type Song struct {
	ID           int    `json:"id"`
	Artist       string `json:"artist"`
	Title        string `json:"title"`
	Cover        string `json:"cover"`
	PreviewURL   string `json:"preview_url"`
	IsNew        bool   `json:"is_new"`
	WeeksInChart int    `json:"weeks_in_chart"`
	Source       string `json:"source"`
}

// SourceCarryover is the provenance tag for songs kept from the prior week.
const SourceCarryover = "carryover"

// Carryover reports whether the song carried over from the previous week's
// chart. The explicit source tag wins; older payloads without one fall back
// to "not new".
func (s Song) Carryover() bool {
	if s.Source != "" {
		return s.Source == SourceCarryover
	}
	return !s.IsNew
}

// Result is one row of the public vote tally.
type Result struct {
	SongID int `json:"song_id"`
	Votes  int `json:"votes"`
}

// VoteReceipt is the API's acknowledgement of an accepted vote.
type VoteReceipt struct {
	OK           bool   `json:"ok"`
	WeekID       int    `json:"week_id"`
	UserID       string `json:"user_id"`
	VotedSongIDs []int  `json:"voted_song_ids"`
}

// SummaryRow is one song in the admin vote summary.
type SummaryRow struct {
	ID           int    `json:"id"`
	Artist       string `json:"artist"`
	Title        string `json:"title"`
	Votes        int    `json:"votes"`
	IsNew        bool   `json:"is_new"`
	WeeksInChart int    `json:"weeks_in_chart"`
	Source       string `json:"source"`
}

// Summary is the admin-only vote summary for a week.
type Summary struct {
	WeekID     int          `json:"week_id"`
	TotalSongs int          `json:"total_songs"`
	Rows       []SummaryRow `json:"rows"`
}

// EnrichReport describes the outcome of an admin enrichment run.
type EnrichReport struct {
	OK        bool `json:"ok"`
	WeekID    int  `json:"week_id"`
	Processed int  `json:"processed"`
	Updated   int  `json:"updated"`
	Skipped   int  `json:"skipped"`
}
