package collections

import "time"

const defaultCooldownDays = 7

// Calendar holds the date rules for entering and advancing the flow. Dates
// are compared as calendar days in Location.
type Calendar struct {
	// PreDueOffsets are days-before-due candidates, most notice first.
	PreDueOffsets []int
	// Step0CooldownDays overrides the step 0 policy cooldown when positive.
	Step0CooldownDays int
	// DefaultCooldownDays replaces a zero cooldown.
	DefaultCooldownDays int
	// DefaultMinDaysOverdue applies to clinics without billing settings.
	DefaultMinDaysOverdue int
	Location              *time.Location
	Now                   func() time.Time
}

// DefaultCalendar returns the stock rules in São Paulo time.
func DefaultCalendar() Calendar {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		loc = time.UTC
	}
	return Calendar{
		PreDueOffsets:         []int{7, 5, 2, 1, 0},
		DefaultCooldownDays:   defaultCooldownDays,
		DefaultMinDaysOverdue: 90,
		Location:              loc,
		Now:                   time.Now,
	}
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// CurrentTime returns the calendar clock.
func (c Calendar) CurrentTime() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Today returns midnight of the current day in Location.
func (c Calendar) Today() time.Time {
	return c.day(c.CurrentTime())
}

func (c Calendar) day(t time.Time) time.Time {
	t = t.In(c.loc())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc())
}

// civil re-anchors a stored DATE (which carries no zone) to Location.
func (c Calendar) civil(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, c.loc())
}

// IsPreDue reports whether the due date is strictly after today.
func (c Calendar) IsPreDue(dueDate time.Time) bool {
	return c.civil(dueDate).After(c.Today())
}

// PreDueTarget picks the first ladder offset that still lands strictly after
// today, falling back to the due date itself.
func (c Calendar) PreDueTarget(dueDate time.Time) time.Time {
	due := c.civil(dueDate)
	today := c.Today()
	for _, offset := range c.PreDueOffsets {
		candidate := due.AddDate(0, 0, -offset)
		if candidate.After(today) {
			return candidate
		}
	}
	return due
}

// DaysOverdue counts whole days from the due date to today. A due date of
// today yields 0.
func (c Calendar) DaysOverdue(dueDate time.Time) int {
	due := c.civil(dueDate)
	today := c.Today()
	// Calendar days, independent of DST shifts.
	dueUTC := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	todayUTC := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return int(todayUTC.Sub(dueUTC).Hours() / 24)
}

// Cooldown returns days, or the default when days is not positive.
func (c Calendar) Cooldown(days int) int {
	if days > 0 {
		return days
	}
	if c.DefaultCooldownDays > 0 {
		return c.DefaultCooldownDays
	}
	return defaultCooldownDays
}

// EntryStep maps overdue severity onto a flow step: one step per step 0
// cooldown period, capped at maxActiveStep.
func (c Calendar) EntryStep(daysOverdue, step0Cooldown, maxActiveStep int) int {
	cooldown := step0Cooldown
	if c.Step0CooldownDays > 0 {
		cooldown = c.Step0CooldownDays
	}
	cooldown = c.Cooldown(cooldown)
	step := daysOverdue/cooldown + 1
	if step > maxActiveStep {
		step = maxActiveStep
	}
	return step
}

// MinDaysOverdue resolves a clinic override against the default window.
func (c Calendar) MinDaysOverdue(clinicValue int, ok bool) int {
	if ok {
		return clinicValue
	}
	return c.DefaultMinDaysOverdue
}
