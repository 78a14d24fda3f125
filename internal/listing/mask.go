package listing

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// road name with an optional section, e.g. 忠孝東路四段
	cjkRoad = regexp.MustCompile(`(大道|路|街)([一二三四五六七八九十0-9０-９]+段)?`)
	// everything from the first lane, alley, number or floor marker on
	cjkHouse = regexp.MustCompile(`[0-9０-９一二三四五六七八九十之\-]*[巷弄號樓].*$`)
	// leading postal code
	cjkPostal = regexp.MustCompile(`^[0-9０-９]{3,6}\s*`)
	// optional city or county, then an optional district, e.g. 高雄市路竹區
	cjkAdmin = regexp.MustCompile(`^(\p{Han}{2}[市縣])?(\p{Han}{1,3}?[區鄉鎮市])?`)

	latinHouse         = regexp.MustCompile(`(?i)^\d+\s*(st|nd|rd|th)?\s*(f|fl|floor)\.?$|^\d+[a-z]?([\-/]\d+)?$`)
	latinLeadingNumber = regexp.MustCompile(`^\d+[a-z]?([\-/]\d+)?\s+`)
	latinTrailingNum   = regexp.MustCompile(`(?i)\s+\d+[a-z]?([\-/]\d+)?$`)
	latinSection       = regexp.MustCompile(`(?i)\b(sec|section)\.?\s*\d+[a-z]?$`)
	latinRoad          = regexp.MustCompile(`(?i)\b(rd|road|st|street|ave|avenue|blvd|boulevard|way|dr|drive|sec|section|expressway)\b\.?`)
	latinDistrict      = regexp.MustCompile(`(?i)\b(dist|district|township|borough)\b\.?`)
	latinPostal        = regexp.MustCompile(`^\d{3,6}$`)
	latinHouseTail     = regexp.MustCompile(`(?i)\s*(\b(no\.?|number|lane|ln\.?|alley|aly\.?|floor|fl\.?|room|rm\.?|unit|apt\.?)|#)\s*\d.*$`)
)

// MaskAddress reduces an address to its administrative district and road.
// Lane, alley, house number and floor never survive.
func MaskAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	if hasHan(address) {
		return maskCJK(address)
	}
	return maskLatin(address)
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

func maskCJK(address string) string {
	address = strings.Join(strings.Fields(address), "")
	address = cjkPostal.ReplaceAllString(address, "")

	// the city or county is dropped when a district follows it
	var admin string
	m := cjkAdmin.FindStringSubmatchIndex(address)
	switch {
	case m[4] >= 0:
		admin = address[m[4]:m[5]]
	case m[2] >= 0:
		admin = address[m[2]:m[3]]
	}

	// the road is searched after the district so names like 路竹區 are not cut
	rest := address[m[1]:]
	if loc := cjkRoad.FindStringIndex(rest); loc != nil {
		rest = rest[:loc[1]]
	} else {
		rest = cjkHouse.ReplaceAllString(rest, "")
	}
	return strings.TrimSpace(admin + rest)
}

func maskLatin(address string) string {
	var roads, districts, rest []string
	for _, part := range strings.Split(address, ",") {
		part = strings.TrimSpace(latinHouseTail.ReplaceAllString(part, ""))
		if part == "" || latinHouse.MatchString(part) || latinPostal.MatchString(part) {
			continue
		}
		part = latinLeadingNumber.ReplaceAllString(part, "")
		// a number after the road is a house number, a number after "Sec." is not
		if !latinSection.MatchString(part) {
			part = strings.TrimSpace(latinTrailingNum.ReplaceAllString(part, ""))
		}
		if part == "" {
			continue
		}
		switch {
		case latinRoad.MatchString(part):
			roads = append(roads, part)
		case latinDistrict.MatchString(part):
			districts = append(districts, part)
		default:
			rest = append(rest, part)
		}
	}

	kept := append(roads, districts...)
	if len(kept) == 0 {
		kept = rest
	}
	return strings.Join(kept, ", ")
}
