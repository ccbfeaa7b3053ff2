package catalog

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/relstore/relstore/types"
)

// DbMeta is the persisted description of one open database: its name and
// every table's schema (spec.md §3, §6: "db.meta — text serialization of
// DbMeta{name, tables}").
type DbMeta struct {
	Name   string
	Tables map[string]*types.TabMeta
}

func newDbMeta(name string) *DbMeta {
	return &DbMeta{Name: name, Tables: make(map[string]*types.TabMeta)}
}

// writeMeta serializes db as a simple line-oriented text format, one
// record per line, grouped by table.
func writeMeta(w io.Writer, db *DbMeta) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "DB %s\n", db.Name)
	for _, tab := range db.Tables {
		fmt.Fprintf(bw, "TABLE %s %d\n", tab.Name, len(tab.Cols))
		for _, c := range tab.Cols {
			hasIdx := 0
			if c.HasIndex {
				hasIdx = 1
			}
			fmt.Fprintf(bw, "COL %s %d %d %d %d\n", c.Name, int(c.Type), c.Len, c.Offset, hasIdx)
		}
		fmt.Fprintf(bw, "INDEXES %d\n", len(tab.Indexes))
		for _, im := range tab.Indexes {
			fmt.Fprintf(bw, "INDEX %s\n", strings.Join(im.ColNames(), ","))
		}
	}
	return bw.Flush()
}

// readMeta parses the format writeMeta produces.
func readMeta(r io.Reader) (*DbMeta, error) {
	sc := bufio.NewScanner(r)
	var db *DbMeta
	var curTab *types.TabMeta

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "DB":
			db = newDbMeta(fields[1])
		case "TABLE":
			curTab = &types.TabMeta{Name: fields[1]}
			db.Tables[curTab.Name] = curTab
		case "COL":
			typ, _ := strconv.Atoi(fields[2])
			length, _ := strconv.Atoi(fields[3])
			offset, _ := strconv.Atoi(fields[4])
			hasIdx, _ := strconv.Atoi(fields[5])
			curTab.Cols = append(curTab.Cols, types.ColMeta{
				TabName:  curTab.Name,
				Name:     fields[1],
				Type:     types.ColType(typ),
				Len:      length,
				Offset:   offset,
				HasIndex: hasIdx == 1,
			})
		case "INDEXES":
			// count line only; entries follow as INDEX lines.
		case "INDEX":
			var colNames []string
			if len(fields) > 1 {
				colNames = strings.Split(fields[1], ",")
			}
			im, err := types.NewIndexMeta(curTab, colNames)
			if err != nil {
				return nil, err
			}
			curTab.Indexes = append(curTab.Indexes, *im)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if db == nil {
		db = newDbMeta("")
	}
	return db, nil
}
