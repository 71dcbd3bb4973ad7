package transform

import "fmt"

// Deduplicate drops rows sharing the same key column values, keeping the last
// occurrence. Provider pages can overlap when records change mid-extraction,
// and the later copy is the fresher one.
func Deduplicate(rows []Row, keys []string) []Row {
	if len(keys) == 0 || len(rows) == 0 {
		return rows
	}

	index := make(map[string]int, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		k := dedupKey(row, keys)
		if pos, seen := index[k]; seen {
			out[pos] = row
			continue
		}
		index[k] = len(out)
		out = append(out, row)
	}
	return out
}

func dedupKey(row Row, keys []string) string {
	k := ""
	for _, col := range keys {
		k += fmt.Sprintf("%v\x1f", row[col])
	}
	return k
}
