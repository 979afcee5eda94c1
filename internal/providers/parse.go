package providers

import "strconv"

// parseYear extracts a four-digit year from publish-date strings whose
// format varies by source ("2014", "May 2014", "2014-05-01").
func parseYear(date string) int {
	run, start := 0, 0
	for i := 0; i <= len(date); i++ {
		if i < len(date) && isDigit(date[i]) {
			if run == 0 {
				start = i
			}
			run++
			continue
		}
		if run == 4 {
			year, err := strconv.Atoi(date[start : start+4])
			if err == nil && year >= 1000 {
				return year
			}
		}
		run = 0
	}
	return 0
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
