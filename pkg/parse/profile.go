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

var locationRe = regexp.MustCompile(`^([^(]+)`)

// ProfilePage extracts a horse's profile snapshot from its profile page.
// Profile data is spread across several label/colon/value tables, so every
// table row on the page is inspected.
func ProfilePage(body []byte, authorityID, sourceURL string) (*models.HorseProfile, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: profile page HTML: %v", utils.ErrParsing, err)
	}

	p := &models.HorseProfile{AuthorityID: authorityID, SourceURL: sourceURL}
	matched := 0

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		label := cleanText(cells.Eq(0).Text())
		value := cleanText(cells.Eq(2).Text())
		if applyProfileField(p, label, value) {
			matched++
		}
	})

	if matched == 0 {
		return nil, fmt.Errorf("%w: profile page for %s has no recognizable fields", utils.ErrParsing, authorityID)
	}
	return p, nil
}

func applyProfileField(p *models.HorseProfile, label, value string) bool {
	switch {
	case strings.Contains(label, "出生地") || strings.Contains(label, "馬齡"):
		parts := strings.Split(value, "/")
		p.Origin = strings.TrimSpace(parts[0])
		if len(parts) >= 2 {
			if age, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
				p.Age = &age
			}
		}
	case strings.Contains(label, "毛色") || strings.Contains(label, "性別"):
		parts := strings.Split(value, "/")
		p.Colour = strings.TrimSpace(parts[0])
		if len(parts) >= 2 {
			p.Sex = strings.TrimSpace(parts[1])
		}
	case strings.Contains(label, "進口類別"):
		p.ImportType = value
	case strings.Contains(label, "今季獎金"):
		p.SeasonPrizeHKD = moneyPtr(value)
	case strings.Contains(label, "總獎金"):
		p.LifetimePrizeHKD = moneyPtr(value)
	case strings.Contains(label, "冠") && strings.Contains(label, "亞") &&
		strings.Contains(label, "季") && strings.Contains(label, "出賽"):
		parts := strings.Split(value, "-")
		if len(parts) >= 4 {
			p.RecordWins = intPtr(strings.TrimSpace(parts[0]))
			p.RecordSeconds = intPtr(strings.TrimSpace(parts[1]))
			p.RecordThirds = intPtr(strings.TrimSpace(parts[2]))
			p.RecordStarts = intPtr(strings.TrimSpace(parts[3]))
		}
	case strings.Contains(label, "最近") && strings.Contains(label, "出賽"):
		p.Last10Starts = value
	case strings.Contains(label, "現在位置") || strings.Contains(label, "到達日期"):
		if m := locationRe.FindStringSubmatch(value); m != nil {
			p.CurrentLocation = strings.TrimSpace(m[1])
		}
	case strings.Contains(label, "馬主"):
		p.OwnerName = value
	case strings.Contains(label, "現時評分"):
		p.CurrentRating = intPtr(value)
	case strings.Contains(label, "季初評分"):
		p.SeasonStartRating = intPtr(value)
	case label == "父系":
		p.SireName = value
	case label == "母系":
		p.DamName = value
	case label == "外祖父":
		p.DamSireName = value
	default:
		return false
	}
	return true
}
