package app

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/rbright/cadence/internal/audio"
	"github.com/rbright/cadence/internal/ipc"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderTable(headers []string, rows [][]string) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// writeRecords prints rows as a table on a terminal and as key=value lines otherwise.
func writeRecords(w io.Writer, headers []string, rows [][]string) {
	if isTerminal(w) {
		fmt.Fprintln(w, renderTable(headers, rows))
		return
	}
	for _, row := range rows {
		fields := make([]string, 0, len(headers))
		for i, h := range headers {
			value := ""
			if i < len(row) {
				value = row[i]
			}
			fields = append(fields, strings.ToLower(h)+"="+quoteIfNeeded(value))
		}
		fmt.Fprintln(w, strings.Join(fields, " "))
	}
}

// writeFields prints name/value pairs, one per line when not on a terminal.
func writeFields(w io.Writer, fields [][2]string) {
	if isTerminal(w) {
		rows := make([][]string, 0, len(fields))
		for _, f := range fields {
			rows = append(rows, []string{f[0], f[1]})
		}
		fmt.Fprintln(w, renderTable([]string{"Field", "Value"}, rows))
		return
	}
	for _, f := range fields {
		fmt.Fprintf(w, "%s=%s\n", f[0], quoteIfNeeded(f[1]))
	}
}

func quoteIfNeeded(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\"=") {
		return strconv.Quote(v)
	}
	return v
}

func renderStatus(w io.Writer, resp ipc.Response) {
	state := resp.State
	if state == "" {
		state = "idle"
	}
	fields := [][2]string{{"state", state}}
	if p := resp.Playback; p != nil {
		fields = append(fields,
			[2]string{"session_id", p.SessionID},
			[2]string{"volume", strconv.Itoa(p.BaseVolume)},
			[2]string{"effective_volume", strconv.Itoa(p.EffectiveVolume)},
			[2]string{"muted", yesNo(p.Muted)},
			[2]string{"boost", yesNo(p.BoostEnabled)},
			[2]string{"boost_factor", strconv.FormatFloat(p.BoostFactor, 'f', -1, 64)},
			[2]string{"speed", formatSpeed(p.Speed)},
			[2]string{"loudnorm", yesNo(p.Loudnorm)},
			[2]string{"filter", p.Filter},
			[2]string{"in_sync", yesNo(p.InSync)},
			[2]string{"revision", strconv.FormatUint(p.Revision, 10)},
		)
	}
	writeFields(w, fields)
}

func renderBindings(w io.Writer, bindings []ipc.Binding) {
	rows := make([][]string, 0, len(bindings))
	for _, b := range bindings {
		rows = append(rows, []string{b.Action, b.Combo, b.Help})
	}
	writeRecords(w, []string{"Action", "Combo", "Help"}, rows)
}

func renderSinks(w io.Writer, sinks []audio.Sink) {
	rows := make([][]string, 0, len(sinks))
	for _, s := range sinks {
		rows = append(rows, []string{
			yesNo(s.Default),
			s.ID,
			s.Description,
			s.State,
			yesNo(s.Available),
			yesNo(s.Muted),
			strconv.Itoa(s.VolumePercent),
		})
	}
	writeRecords(w, []string{"Default", "ID", "Description", "State", "Available", "Muted", "Volume"}, rows)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
