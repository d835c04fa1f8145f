package cron

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// NextRun computes the next fire time for j's schedule, given the current
// time now. For ScheduleAt it returns the target time once; callers are
// expected to disable the job after it fires. For ScheduleEvery it returns
// now+interval. For ScheduleCron it parses the 5-field expression in the
// job's IANA timezone (default UTC) and returns the next matching instant
// converted back to UTC.
func NextRun(sched Schedule, now time.Time) (time.Time, error) {
	switch sched.Kind {
	case ScheduleAt:
		return sched.At, nil
	case ScheduleEvery:
		return now.Add(time.Duration(sched.EverySecs) * time.Second), nil
	case ScheduleCron:
		loc := time.UTC
		if sched.TZ != "" {
			l, err := time.LoadLocation(sched.TZ)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid timezone %q: %w", sched.TZ, err)
			}
			loc = l
		}
		expr := normalizeCronExpr(sched.Expr)
		next, err := gronx.NextTickAfter(expr, now.In(loc), false)
		if err != nil {
			return time.Time{}, fmt.Errorf("cron next-tick: %w", err)
		}
		return next.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", sched.Kind)
	}
}

// normalizeCronExpr rewrites the "?" wildcard in the day-of-month and
// day-of-week fields (accepted by our basic-format validator but not by
// gronx's parser) to "*", its schedulability equivalent.
func normalizeCronExpr(expr string) string {
	fields := splitFields(expr)
	if len(fields) == 5 && fields[4] == "?" {
		fields[4] = "*"
	}
	if len(fields) == 5 && fields[2] == "?" {
		fields[2] = "*"
	}
	out := fields[0]
	for _, f := range fields[1:] {
		out += " " + f
	}
	return out
}

func splitFields(expr string) []string {
	var fields []string
	start := -1
	for i, c := range expr {
		if c == ' ' || c == '\t' {
			if start >= 0 {
				fields = append(fields, expr[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, expr[start:])
	}
	return fields
}
