package parse

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"hkracing-scraper/pkg/models"
	"hkracing-scraper/pkg/utils"
)

var (
	localResultsRe = regexp.MustCompile(`localresults?`)
	raceNoRe       = regexp.MustCompile(`第\s*(\d+)\s*場`)
	meetingDateRe  = regexp.MustCompile(`賽事日期:\s*(\d{2}/\d{2}/\d{4})\s+(\S+)`)
	distanceRe     = regexp.MustCompile(`(\d{3,4})米`)
	goingRe        = regexp.MustCompile(`場地狀況\s*:\s*(\S+)`)
	courseRe       = regexp.MustCompile(`"([A-Z]\+?\d?)"`)
	prizeRe        = regexp.MustCompile(`HK\$\s*([\d,]+)`)
	horseIDRe      = regexp.MustCompile(`HorseId=(HK_\d+_[A-Z0-9]+)`)
	jockeyIDRe     = regexp.MustCompile(`JockeyId=([A-Z0-9]+)`)
	trainerIDRe    = regexp.MustCompile(`TrainerId=([A-Z0-9]+)`)
	horseCodeRe    = regexp.MustCompile(`\(([A-Z0-9]+)\)`)
)

// RaceIndex parses the per-date results index page into the list of local
// result links, one per (venue, race no). Links for unknown venues are
// dropped; output is sorted by venue then race number.
func RaceIndex(body []byte, siteRoot string) ([]models.RaceLink, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: race index HTML: %v", utils.ErrParsing, err)
	}

	seen := make(map[string]bool)
	var out []models.RaceLink

	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || !localResultsRe.MatchString(href) {
			return
		}
		full := resolveURL(siteRoot, href)
		u, uerr := url.Parse(full)
		if uerr != nil {
			return
		}
		q := u.Query()
		venue := q.Get("Racecourse")
		if venue != "ST" && venue != "HV" {
			return
		}
		raceNo := atoiOrZero(q.Get("RaceNo"))

		key := fmt.Sprintf("%s|%s|%d", full, venue, raceNo)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, models.RaceLink{URL: full, VenueCode: venue, RaceNo: raceNo})
	})

	sort.Slice(out, func(i, j int) bool {
		if out[i].VenueCode != out[j].VenueCode {
			return out[i].VenueCode < out[j].VenueCode
		}
		return out[i].RaceNo < out[j].RaceNo
	})
	return out, nil
}

// RacePage parses one local-results page into the meeting, race header,
// runners, and the horse/jockey/trainer master references they mention.
func RacePage(body []byte, sourceURL, venueCode string) (*models.RaceBundle, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: race page HTML: %v", utils.ErrParsing, err)
	}

	bundle := &models.RaceBundle{}

	// Meeting line: 賽事日期: DD/MM/YYYY <venue>
	m := meetingDateRe.FindStringSubmatch(doc.Text())
	if m == nil {
		return nil, fmt.Errorf("%w: race page missing meeting date line", utils.ErrParsing)
	}
	date, derr := time.ParseInLocation("02/01/2006", m[1], hkt)
	if derr != nil {
		return nil, fmt.Errorf("%w: meeting date %q: %v", utils.ErrParsing, m[1], derr)
	}
	bundle.Meeting = models.Meeting{
		Date:      date,
		VenueCode: venueCode,
		VenueName: m[2],
		Season:    fmt.Sprintf("%d", seasonStartYear(date)),
		SourceURL: sourceURL,
	}

	// Race header table: the cell carrying 第 X 場
	headerCell := doc.Find("td").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return raceNoRe.MatchString(s.Text())
	}).First()
	if headerCell.Length() == 0 {
		return nil, fmt.Errorf("%w: race page missing race header", utils.ErrParsing)
	}
	race, herr := parseRaceHeader(headerCell.ParentsFiltered("table").First())
	if herr != nil {
		return nil, herr
	}
	race.SourceURL = sourceURL
	bundle.Race = *race

	// Runners table: headed by 名次
	resultHeader := doc.Find("td").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), "名次")
	}).First()
	if resultHeader.Length() == 0 {
		return nil, fmt.Errorf("%w: race page missing results table", utils.ErrParsing)
	}
	parseRunnerRows(resultHeader.ParentsFiltered("table").First(), bundle)

	if len(bundle.Runners) == 0 {
		return nil, fmt.Errorf("%w: race page yielded no runners", utils.ErrParsing)
	}
	return bundle, nil
}

// parseRaceHeader extracts the race fields from the header table. Layout is
// positional: row 0 carries the race number, row 2 cell 0 carries
// "class - distance - (rating band)".
func parseRaceHeader(table *goquery.Selection) (*models.Race, error) {
	rows := table.Find("tr")
	if rows.Length() == 0 {
		return nil, fmt.Errorf("%w: empty race header table", utils.ErrParsing)
	}

	race := &models.Race{}

	first := cleanText(rows.First().Text())
	if m := raceNoRe.FindStringSubmatch(first); m != nil {
		race.RaceNo = atoiOrZero(m[1])
	}

	if rows.Length() > 2 {
		classCell := rows.Eq(2).Find("td").First()
		race.ClassText = strings.TrimSpace(strings.SplitN(cleanText(classCell.Text()), " - ", 2)[0])
	}

	var headerParts []string
	rows.Slice(1, min(5, rows.Length())).Each(func(_ int, r *goquery.Selection) {
		headerParts = append(headerParts, cleanText(r.Text()))
	})
	headerText := strings.Join(headerParts, " ")

	if m := distanceRe.FindStringSubmatch(headerText); m != nil {
		race.DistanceM = atoiOrZero(m[1])
	}
	if m := goingRe.FindStringSubmatch(headerText); m != nil {
		race.Going = m[1]
	}

	rows.Slice(1, min(5, rows.Length())).Each(func(_ int, r *goquery.Selection) {
		cells := r.Find("td")
		if cells.Length() == 0 {
			return
		}
		txt0 := cleanText(cells.First().Text())
		for _, marker := range []string{"讓賽", "盃", "錦標", "賽"} {
			if strings.Contains(txt0, marker) {
				race.NameCN = txt0
				break
			}
		}
		tail := cleanText(cells.Last().Text())
		if m := courseRe.FindStringSubmatch(tail); m != nil {
			race.Course = m[1]
		}
	})

	rows.EachWithBreak(func(_ int, r *goquery.Selection) bool {
		txt := cleanText(r.Text())
		if !strings.Contains(txt, "HK$") {
			return true
		}
		if m := prizeRe.FindStringSubmatch(txt); m != nil {
			if p := moneyPtr(m[1]); p != nil {
				race.PrizeHKD = *p
			}
		}
		return false
	})

	return race, nil
}

// parseRunnerRows walks the results table rows, filling runners and the
// horse/jockey/trainer master maps. Column order is fixed on the origin:
// placing, horse no, horse, jockey, trainer, actual wt, declared wt, draw,
// margin, running positions, finish time, win odds.
func parseRunnerRows(table *goquery.Selection, bundle *models.RaceBundle) {
	horses := make(map[string]bool)
	jockeys := make(map[string]bool)
	trainers := make(map[string]bool)

	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return // header row
		}
		tds := tr.Find("td")
		if tds.Length() < 12 {
			return
		}
		placing := cleanText(tds.Eq(0).Text())
		if placing == "" {
			return
		}

		horseCell := tds.Eq(2)
		horseName := cleanText(horseCell.Text())
		horseCode := ""
		if m := horseCodeRe.FindStringSubmatch(horseName); m != nil {
			horseCode = m[1]
		}
		authorityID, profileURL := "", ""
		if href, ok := horseCell.Find("a").First().Attr("href"); ok {
			if m := horseIDRe.FindStringSubmatch(href); m != nil {
				authorityID = m[1]
			}
			profileURL = resolveURL("https://racing.hkjc.com", href)
		}

		jockeyCell := tds.Eq(3)
		jockeyCode, jockeyName := "", cleanText(jockeyCell.Text())
		if href, ok := jockeyCell.Find("a").First().Attr("href"); ok {
			if m := jockeyIDRe.FindStringSubmatch(href); m != nil {
				jockeyCode = m[1]
				jockeyName = cleanText(jockeyCell.Find("a").First().Text())
			}
		}

		trainerCell := tds.Eq(4)
		trainerCode, trainerName := "", cleanText(trainerCell.Text())
		if href, ok := trainerCell.Find("a").First().Attr("href"); ok {
			if m := trainerIDRe.FindStringSubmatch(href); m != nil {
				trainerCode = m[1]
				trainerName = cleanText(trainerCell.Find("a").First().Text())
			}
		}

		if horseCode != "" && !horses[horseCode] {
			horses[horseCode] = true
			bundle.Horses = append(bundle.Horses, models.HorseRef{
				Code: horseCode, NameCN: horseName, AuthorityID: authorityID, ProfileURL: profileURL,
			})
		}
		if jockeyCode != "" && !jockeys[jockeyCode] {
			jockeys[jockeyCode] = true
			bundle.Jockeys = append(bundle.Jockeys, models.JockeyRef{Code: jockeyCode, NameCN: jockeyName})
		}
		if trainerCode != "" && !trainers[trainerCode] {
			trainers[trainerCode] = true
			bundle.Trainers = append(bundle.Trainers, models.TrainerRef{Code: trainerCode, NameCN: trainerName})
		}

		bundle.Runners = append(bundle.Runners, models.Runner{
			HorseCode:      horseCode,
			JockeyCode:     jockeyCode,
			TrainerCode:    trainerCode,
			HorseNo:        atoiOrZero(cleanText(tds.Eq(1).Text())),
			FinishOrder:    placing,
			DrawNo:         atoiOrZero(cleanText(tds.Eq(7).Text())),
			ActualWeight:   atoiOrZero(cleanText(tds.Eq(5).Text())),
			DeclaredWeight: atoiOrZero(cleanText(tds.Eq(6).Text())),
			LBW:            cleanText(tds.Eq(8).Text()),
			FinishTime:     cleanText(tds.Eq(10).Text()),
			WinOdds:        floatOrZero(cleanText(tds.Eq(11).Text())),
		})
	})
}

func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}
