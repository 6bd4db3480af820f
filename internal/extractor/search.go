package extractor

import "encoding/base64"

var (
	searchSort     = map[string]byte{"date": 2, "views": 3, "rating": 4}
	searchDate     = map[string]byte{"hour": 1, "today": 2, "week": 3, "month": 4, "year": 5}
	searchDuration = map[string]byte{"short": 1, "long": 2, "medium": 3}
)

// SearchFilter encodes YouTube's "sp" search parameter. It returns "" when no
// recognised filter is set.
func SearchFilter(sort, date, duration string) string {
	sortVal, hasSort := searchSort[sort]
	dateVal, hasDate := searchDate[date]
	durVal, hasDuration := searchDuration[duration]
	if !hasSort && !hasDate && !hasDuration {
		return ""
	}

	var data []byte
	if hasSort {
		data = append(data, 0x08, sortVal)
	}
	if hasDate || hasDuration {
		var filters []byte
		if hasDate {
			filters = append(filters, 0x08, dateVal)
		}
		filters = append(filters, 0x10, 0x01)
		if hasDuration {
			filters = append(filters, 0x18, durVal)
		}
		data = append(data, 0x12, byte(len(filters)))
		data = append(data, filters...)
	}
	return base64.StdEncoding.EncodeToString(data)
}
