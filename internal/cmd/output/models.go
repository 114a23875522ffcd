package output

import (
	"io"
	"strconv"
	"time"

	"github.com/agentstation/rallysync"
)

// Write formats data for w. Table output uses toTable when it is set.
func Write(w io.Writer, format string, data any, toTable func() Data) error {
	f := Format(format)
	if (f == FormatTable || f == "") && toTable != nil {
		return NewFormatter(FormatTable).Format(w, toTable())
	}
	return NewFormatter(f).Format(w, data)
}

// StatusesToTableData renders sync statuses one row per collection.
func StatusesToTableData(statuses []rallysync.SyncStatus) Data {
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		rows = append(rows, []string{
			string(st.Collection),
			string(st.Status),
			FormatProgress(st.Progress),
			FormatLastSynced(st),
			orDash(st.Error),
		})
	}
	return Data{
		Headers:         []string{"Collection", "Status", "Progress", "Last Synced", "Error"},
		Rows:            rows,
		ColumnAlignment: []Align{AlignLeft, AlignLeft, AlignRight, AlignLeft, AlignLeft},
	}
}

// FormatProgress prints a percentage, or a dash when there is none.
func FormatProgress(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p) + "%"
}

// FormatLastSynced prints the completion time of the last good pass.
func FormatLastSynced(st rallysync.SyncStatus) string {
	if st.LastSynced == nil {
		return "never"
	}
	return st.LastSynced.Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
