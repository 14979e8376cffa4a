package parse

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"hkracing-scraper/pkg/models"
	"hkracing-scraper/pkg/utils"
)

var (
	sectionHeaderRe = regexp.MustCompile(`^第\d+段$`)
	sectionTimeRe   = regexp.MustCompile(`^\d+\.\d+`)
)

const sectionalPendingMarker = "有關資料將於稍後公佈"

// SectionalPage extracts per-horse section times from a sectional-time page.
// A page whose container is absent or still carries the pending notice yields
// an empty slice and no error: the data simply is not published yet.
//
// The container class "dispalySectionalTime" is misspelled on the origin site.
func SectionalPage(body []byte) ([]models.Sectional, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: sectional page HTML: %v", utils.ErrParsing, err)
	}

	container := doc.Find("div.dispalySectionalTime").First()
	if container.Length() == 0 {
		return nil, nil
	}
	if strings.Contains(cleanText(container.Find("p").First().Text()), sectionalPendingMarker) {
		return nil, nil
	}

	var table *goquery.Selection
	container.Find("table").EachWithBreak(func(_ int, t *goquery.Selection) bool {
		if strings.Contains(t.Text(), "過終點") {
			table = t
			return false
		}
		return true
	})
	if table == nil {
		return nil, nil
	}

	rows := table.Find("tr")

	// The header row names each section; its count bounds how many cells per
	// runner row are genuine section cells.
	numSections := 0
	rows.EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		if !strings.Contains(tr.Text(), "第1段") {
			return true
		}
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			if sectionHeaderRe.MatchString(cleanText(td.Text())) {
				numSections++
			}
		})
		return false
	})

	var sectionals []models.Sectional
	rows.Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() < 4 {
			return
		}
		if _, err := strconv.Atoi(cleanText(tds.First().Text())); err != nil {
			return
		}

		horseCode := ""
		if m := horseCodeRe.FindStringSubmatch(cleanText(tds.Eq(2).Text())); m != nil {
			horseCode = m[1]
		}
		if horseCode == "" {
			return
		}

		last := tds.Length() - 1
		for i := 3; i < last; i++ {
			sectionNo := i - 2
			if numSections > 0 && sectionNo > numSections {
				break
			}
			sec := parseSectionCell(cleanText(tds.Eq(i).Text()))
			if sec == nil {
				continue
			}
			sec.HorseCode = horseCode
			sec.SectionNo = sectionNo
			sectionals = append(sectionals, *sec)
		}
	})
	return sectionals, nil
}

// parseSectionCell splits a section cell of the form "pos margin time ..."
// where only the first time value is the section time proper.
func parseSectionCell(raw string) *models.Sectional {
	if raw == "" {
		return nil
	}
	parts := strings.Fields(raw)
	sec := &models.Sectional{}
	if len(parts) > 0 {
		if pos, err := strconv.Atoi(parts[0]); err == nil {
			sec.Position = pos
		}
	}
	for _, p := range parts {
		if sectionTimeRe.MatchString(p) {
			sec.TimeSeconds = floatOrZero(p)
			break
		}
	}
	if sec.TimeSeconds == 0 {
		return nil
	}
	return sec
}
