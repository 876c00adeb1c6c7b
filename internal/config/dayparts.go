package config

import (
	"fmt"
	"time"

	"github.com/your-org/attend/internal/models"
)

// Schedule converts the configured boundaries into a validated schedule.
func (d DayPartsConfig) Schedule() (models.DaySchedule, error) {
	var starts [3]time.Duration
	for i, s := range []string{d.Morning, d.Afternoon, d.Evening} {
		v, err := models.ParseClock(s)
		if err != nil {
			return models.DaySchedule{}, err
		}
		starts[i] = v
	}

	loc := time.Local
	if d.Timezone != "" && d.Timezone != "Local" {
		l, err := time.LoadLocation(d.Timezone)
		if err != nil {
			return models.DaySchedule{}, fmt.Errorf("load timezone: %w", err)
		}
		loc = l
	}
	return models.NewDaySchedule(starts[0], starts[1], starts[2], loc)
}
