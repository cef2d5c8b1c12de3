package ccda

// Narrative holds the human-readable narrative block for a section.
type Narrative struct {
	Table *NarrativeTable `xml:"table,omitempty"`
}

// NarrativeTable is a simplified HTML table for section narratives.
type NarrativeTable struct {
	Border string          `xml:"border,attr,omitempty"`
	Width  string          `xml:"width,attr,omitempty"`
	Thead  *NarrativeThead `xml:"thead,omitempty"`
	Tbody  *NarrativeTbody `xml:"tbody,omitempty"`
}

// NarrativeThead is a table header.
type NarrativeThead struct {
	Tr *NarrativeTr `xml:"tr,omitempty"`
}

// NarrativeTbody is a table body.
type NarrativeTbody struct {
	Trs []NarrativeTr `xml:"tr,omitempty"`
}

// NarrativeTr is a table row.
type NarrativeTr struct {
	Ths []string `xml:"th,omitempty"`
	Tds []string `xml:"td"`
}

func buildNarrativeTable(headers []string, rows [][]string) *Narrative {
	trs := make([]NarrativeTr, len(rows))
	for i, r := range rows {
		trs[i] = NarrativeTr{Tds: padRow(r, len(headers))}
	}
	return &Narrative{
		Table: &NarrativeTable{
			Border: "1",
			Width:  "100%",
			Thead: &NarrativeThead{
				Tr: &NarrativeTr{Ths: headers},
			},
			Tbody: &NarrativeTbody{
				Trs: trs,
			},
		},
	}
}

// padRow pads or truncates a row to the table's column count.
func padRow(row []string, columns int) []string {
	out := make([]string, columns)
	copy(out, row)
	return out
}

// placeholderRow is the single row of a section without entries.
func placeholderRow(columns int) []string {
	row := make([]string, columns)
	if columns > 0 {
		row[0] = noInformationLabel
	}
	return row
}
