package warehouse

import (
	"sort"
	"time"

	"bank-fraud-etl/internal/models"
)

// DateSKey returns the YYYYMMDD key of t's calendar date in UTC
func DateSKey(t time.Time) int {
	t = t.UTC()
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// NewDimDate derives every calendar attribute of the UTC date of t
func NewDimDate(t time.Time) models.DimDate {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	weekday := day.Weekday()
	return models.DimDate{
		ID:            DateSKey(day),
		FullDate:      day,
		Year:          day.Year(),
		Quarter:       (int(day.Month())-1)/3 + 1,
		MonthOfYear:   int(day.Month()),
		MonthName:     day.Month().String(),
		DayOfMonth:    day.Day(),
		DayOfWeekName: weekday.String(),
		IsWeekend:     weekday == time.Saturday || weekday == time.Sunday,
	}
}

// BuildDateDimension returns one row per distinct date of times, ordered by
// date. With fill set, every date between the first and the last is
// included as well.
func BuildDateDimension(times []time.Time, fill bool) []models.DimDate {
	seen := make(map[int]bool)
	var dates []models.DimDate
	for _, t := range times {
		d := NewDimDate(t)
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].ID < dates[j].ID })

	if !fill || len(dates) < 2 {
		return dates
	}

	first, last := dates[0].FullDate, dates[len(dates)-1].FullDate
	filled := make([]models.DimDate, 0, int(last.Sub(first).Hours()/24)+1)
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		filled = append(filled, NewDimDate(day))
	}
	return filled
}
