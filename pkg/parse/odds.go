package parse

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"

	"hkracing-scraper/pkg/models"
	"hkracing-scraper/pkg/utils"
)

var clockRe = regexp.MustCompile(`\d{1,2}:\d{2}(?::\d{2})?`)

// OddsPage extracts the time-series odds table from a trends-history page.
// The authority table carries id "odds_table", the market table
// "discounts_table"; when neither id is present any table tagged with a
// data-race-num attribute is used, and as a last resort the first table
// whose leading cell looks like a clock time.
//
// An empty page (race not yet opened, or market closed) yields no samples
// and no error.
func OddsPage(body []byte, raceDate time.Time, facet models.Facet, sourceURL string) ([]models.OddsSample, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: odds page HTML: %v", utils.ErrParsing, err)
	}

	table := findOddsTable(doc)
	if table == nil {
		return nil, nil
	}

	type rowData struct {
		stamp string
		cells []oddsCell
	}
	var rows []rowData

	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		stamp, ok := tr.Attr("data-date-time")
		cells := tr.Find("td, th")
		if !ok || stamp == "" {
			if cells.Length() == 0 {
				return
			}
			first := cleanText(cells.First().Text())
			if !clockRe.MatchString(first) {
				return
			}
			stamp = first
		}
		parsed := parseOddsCells(cells)
		if len(parsed) == 0 {
			return
		}
		rows = append(rows, rowData{stamp: stamp, cells: parsed})
	})
	if len(rows) == 0 {
		return nil, nil
	}

	stamps := make([]string, len(rows))
	for i, r := range rows {
		stamps[i] = r.stamp
	}
	observed := ResolveTimeSeries(raceDate, stamps)

	var samples []models.OddsSample
	for i, r := range rows {
		if observed[i].IsZero() {
			continue
		}
		for _, c := range r.cells {
			samples = append(samples, models.OddsSample{
				HorseNo:    c.horseNo,
				BetType:    string(facet),
				ObservedAt: observed[i],
				Value:      c.value,
				SourceURL:  sourceURL,
			})
		}
	}
	return samples, nil
}

type oddsCell struct {
	horseNo int
	value   float64
}

func findOddsTable(doc *goquery.Document) *goquery.Selection {
	if t := doc.Find("#odds_table").First(); t.Length() > 0 {
		return t
	}
	if t := doc.Find("#discounts_table").First(); t.Length() > 0 {
		return t
	}
	if t := doc.Find("table[data-race-num]").First(); t.Length() > 0 {
		return t
	}
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, t *goquery.Selection) bool {
		first := cleanText(t.Find("tr").First().Find("td, th").First().Text())
		if clockRe.MatchString(first) {
			found = t
			return false
		}
		return true
	})
	return found
}

// parseOddsCells reads one row's odds cells, preferring explicit
// data-horse-num attributes and falling back to column position when the
// markup carries none.
func parseOddsCells(cells *goquery.Selection) []oddsCell {
	var parsed []oddsCell
	cells.Each(func(_ int, td *goquery.Selection) {
		numStr, ok := td.Attr("data-horse-num")
		if !ok {
			return
		}
		horseNo, err := strconv.Atoi(numStr)
		if err != nil {
			return
		}
		if v := floatOrZero(td.Text()); v > 0 {
			parsed = append(parsed, oddsCell{horseNo: horseNo, value: v})
		}
	})
	if len(parsed) > 0 {
		return parsed
	}

	// Legacy layout: column 1 is the clock, columns 2..n map to horse 1..n-1.
	cells.Each(func(i int, td *goquery.Selection) {
		if i == 0 {
			return
		}
		if v := floatOrZero(td.Text()); v > 0 {
			parsed = append(parsed, oddsCell{horseNo: i, value: v})
		}
	})
	return parsed
}
