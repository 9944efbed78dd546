package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/vicwatch/vicemergency-monitor/internal/domain"
)

const renderTimeLayout = "2006-01-02 15:04:05"

// maxCellWidth bounds the Type and Location columns in table output so one
// verbose feed record cannot blow out the terminal.
const maxCellWidth = 45

// RenderTable writes the result set as an aligned text table.
func RenderTable(w io.Writer, statuses []domain.EmergencyStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POSTCODE\tTYPE\tLOCATION\tUPDATED\tCHANGE")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Postcode,
			truncate(s.Type, maxCellWidth),
			truncate(s.LocationName, maxCellWidth),
			s.UpdateTime.Format(renderTimeLayout),
			s.Change,
		)
	}
	return tw.Flush()
}

// RenderCSV writes the result set as CSV with a header row.
func RenderCSV(w io.Writer, statuses []domain.EmergencyStatus) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Postcode", "Type", "Location Name", "Update Time", "Change"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, s := range statuses {
		row := []string{
			s.Postcode,
			s.Type,
			s.LocationName,
			s.UpdateTime.Format(time.RFC3339),
			string(s.Change),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// RenderJSON writes the result set as an indented JSON array.
func RenderJSON(w io.Writer, statuses []domain.EmergencyStatus) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if statuses == nil {
		statuses = []domain.EmergencyStatus{}
	}
	return enc.Encode(statuses)
}

// truncate shortens s to max characters. It counts runes, not bytes, so
// multibyte location text never gets split mid-character.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
