package transform

import "strconv"

// Report payloads arrive as a nested Header/Columns/Rows structure with
// recursive sections. FlattenReport walks it into long-format rows: one row
// per (report line, value column), so every report fits the same fixed table
// shape regardless of how many period columns it was summarized into.

// FlattenReport converts one report payload into rows for its report_* table.
func FlattenReport(clientID string, report map[string]any) []Row {
	if len(report) == 0 {
		return nil
	}

	header := getMap(report, "Header")
	name := str(header["ReportName"])
	startPeriod := header["StartPeriod"]
	endPeriod := header["EndPeriod"]

	var cols []string
	for i, c := range getSlice(getMap(report, "Columns"), "Column") {
		cm, _ := c.(map[string]any)
		title := str(cm["ColTitle"])
		if title == "" {
			title = "col_" + strconv.Itoa(i)
		}
		cols = append(cols, title)
	}

	var rows []Row
	emit := func(rowType, section string, colData []any) {
		var label any
		if len(colData) > 0 {
			if first, ok := colData[0].(map[string]any); ok {
				label = first["value"]
			}
		}
		for i := 1; i < len(colData) && i < len(cols); i++ {
			cd, ok := colData[i].(map[string]any)
			if !ok {
				continue
			}
			rows = append(rows, Row{
				"client_id":    clientID,
				"report_name":  name,
				"section":      section,
				"row_type":     rowType,
				"row_label":    label,
				"col_title":    cols[i],
				"col_value":    cd["value"],
				"start_period": startPeriod,
				"end_period":   endPeriod,
			})
		}
	}

	walkReportRows(getSlice(getMap(report, "Rows"), "Row"), "", emit)
	return rows
}

func walkReportRows(list []any, section string, emit func(rowType, section string, colData []any)) {
	for _, item := range list {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rowType := str(row["type"])

		switch {
		case rowType == "Section":
			sectionName := section
			if colData := getSlice(getMap(row, "Header"), "ColData"); len(colData) > 0 {
				if first, ok := colData[0].(map[string]any); ok {
					sectionName = str(first["value"])
				}
			}
			walkReportRows(getSlice(getMap(row, "Rows"), "Row"), sectionName, emit)
			if summary := getMap(row, "Summary"); summary != nil {
				emit("Summary", sectionName, getSlice(summary, "ColData"))
			}

		case rowType == "Data" || row["ColData"] != nil:
			emit("Data", section, getSlice(row, "ColData"))
		}
	}
}
