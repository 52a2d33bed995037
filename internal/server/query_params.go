package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
)

func parseSnowflakeParam(c *gin.Context, name string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || parsed <= 0 {
		return 0, newValidationError(name, "invalid_"+name, "invalid "+name)
	}
	return parsed, nil
}

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed <= 0 {
		return nil, newValidationError("id", "invalid_id", "invalid id")
	}
	return &parsed, nil
}

type dateAnchor int

const (
	anchorNoon dateAnchor = iota
	anchorStartOfDay
	anchorEndOfDay
)

// parseOptionalTime accepts RFC3339 or a plain YYYY-MM-DD date placed at anchor.
// Business dates use noon UTC; range bounds use the edges of the day.
func parseOptionalTime(field, value string, anchor dateAnchor) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		parsed = parsed.UTC()
		return &parsed, nil
	}
	parsed, err := payoutweek.ParseDate(trimmed)
	if err != nil {
		return nil, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	y, m, d := parsed.Date()
	switch anchor {
	case anchorStartOfDay:
		parsed = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case anchorEndOfDay:
		parsed = time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), time.UTC)
	}
	return &parsed, nil
}

type weekQuery struct {
	Week      string `form:"week"`
	Year      string `form:"year"`
	WeekStart string `form:"week_start"`
}

// resolveWeekRef picks the reference time for a payout week from either
// ?week=&year=, ?week_start= or the current time.
func resolveWeekRef(c *gin.Context, now time.Time) (time.Time, error) {
	var q weekQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		return time.Time{}, invalidRequestError()
	}

	if strings.TrimSpace(q.Week) != "" || strings.TrimSpace(q.Year) != "" {
		week, werr := strconv.Atoi(strings.TrimSpace(q.Week))
		year, yerr := strconv.Atoi(strings.TrimSpace(q.Year))
		if werr != nil || yerr != nil {
			return time.Time{}, newValidationError("week", "invalid_week", "week and year must both be set")
		}
		return payoutweek.StartOf(payoutweek.Epoch{Week: week, Year: year})
	}

	ref, err := parseOptionalTime("week_start", q.WeekStart, anchorNoon)
	if err != nil {
		return time.Time{}, err
	}
	if ref != nil {
		return *ref, nil
	}
	return now, nil
}
