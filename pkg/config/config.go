// Package config loads and validates the declarative schedule/environment
// manifest consumed by the rest of nsscheduler.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TimeOfDay is a wall-clock point within a day, interpreted in a Schedule's
// timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func parseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("time %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("time %q: out of range", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func (t TimeOfDay) onDate(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, 0, 0, loc)
}

// WeekdayRule ties a set of ISO weekdays (1=Monday...7=Sunday) to optional
// UP (start) and DOWN (stop) times of day.
type WeekdayRule struct {
	Days  []int
	Start []TimeOfDay
	Stop  []TimeOfDay
}

// HolidayWindow is a closed interval [Stop, Start] during which an
// environment is held DOWN regardless of WeekdayRule. Stop must be strictly
// before Start: Stop begins the off-window, Start ends it.
type HolidayWindow struct {
	Stop  time.Time
	Start time.Time
}

// Schedule is a named, fully normalized timezone + weekday rules + holiday
// windows. All times carry Location after Load/Parse; naive timestamps
// never leave this package.
type Schedule struct {
	Name     string
	Location *time.Location
	Weekdays []WeekdayRule
	Holidays []HolidayWindow
}

// BatchPolicy paces UP operations: after every Size workloads scaled up
// within a namespace, pause Timeout before continuing. A zero Size disables
// batching.
type BatchPolicy struct {
	Size    int
	Timeout time.Duration
}

// Environment is a named, ordered group of namespaces managed as one unit.
type Environment struct {
	Name       string
	Namespaces []string
	Schedule   string
	Batch      *BatchPolicy
}

// Config is the fully validated, normalized manifest: at least one schedule
// and one environment, every environment referencing a known schedule.
type Config struct {
	Schedules    map[string]Schedule
	Environments map[string]Environment
}

// --- raw YAML shape, mirroring the manifest documented in SPEC_FULL.md §6 ---

type rawConfig struct {
	Schedules map[string]rawSchedule    `yaml:"schedules"`
	Envs      map[string]rawEnvironment `yaml:"envs"`
}

type rawSchedule struct {
	Timezone string           `yaml:"timezone"`
	Weekdays []rawWeekdayRule `yaml:"weekdays"`
	Holidays []rawHoliday     `yaml:"holidays"`
}

type rawWeekdayRule struct {
	Days  []int       `yaml:"days"`
	Start stringOrList `yaml:"start"`
	Stop  stringOrList `yaml:"stop"`
}

type rawHoliday struct {
	Stop  string `yaml:"stop"`
	Start string `yaml:"start"`
}

type rawEnvironment struct {
	Namespaces []string  `yaml:"namespaces"`
	Schedule   string    `yaml:"schedule"`
	Batch      *rawBatch `yaml:"batch"`
}

type rawBatch struct {
	Size    int `yaml:"size"`
	Timeout int `yaml:"timeout"`
}

// stringOrList accepts either a single scalar "HH:MM" or a YAML sequence of
// them, matching the Python schema's `Union[str, list[str]]` field.
type stringOrList []string

func (s *stringOrList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = []string{single}
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*s = many
	default:
		return fmt.Errorf("expected scalar or sequence, got %v", value.Kind)
	}
	return nil
}

// InvalidConfiguration aggregates every validation problem found in a
// manifest, rather than failing on the first assertion the way the Python
// source's validators do.
type InvalidConfiguration struct {
	Problems []string
}

func (e *InvalidConfiguration) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

// Load reads and validates a manifest from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and normalizes raw YAML bytes into a Config.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	var problems []string
	schedules := make(map[string]Schedule, len(raw.Schedules))

	for name, rs := range raw.Schedules {
		sched, errs := normalizeSchedule(name, rs)
		problems = append(problems, errs...)
		schedules[name] = sched
	}

	environments := make(map[string]Environment, len(raw.Envs))
	for name, re := range raw.Envs {
		env, errs := normalizeEnvironment(name, re, schedules)
		problems = append(problems, errs...)
		environments[name] = env
	}

	if len(schedules) == 0 {
		problems = append(problems, "at least one schedule must be defined")
	}
	if len(environments) == 0 {
		problems = append(problems, "at least one environment must be defined")
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &InvalidConfiguration{Problems: problems}
	}

	return &Config{Schedules: schedules, Environments: environments}, nil
}

func normalizeSchedule(name string, rs rawSchedule) (Schedule, []string) {
	var problems []string

	loc, err := time.LoadLocation(rs.Timezone)
	if err != nil {
		problems = append(problems, fmt.Sprintf("schedule %q: unknown timezone %q: %v", name, rs.Timezone, err))
		loc = time.UTC
	}

	weekdays := make([]WeekdayRule, 0, len(rs.Weekdays))
	for i, rw := range rs.Weekdays {
		for _, d := range rw.Days {
			if d < 1 || d > 7 {
				problems = append(problems, fmt.Sprintf("schedule %q weekdays[%d]: day %d out of range [1,7]", name, i, d))
			}
		}
		start, errs := parseTimeOfDayList(rw.Start)
		for _, e := range errs {
			problems = append(problems, fmt.Sprintf("schedule %q weekdays[%d]: %v", name, i, e))
		}
		stop, errs := parseTimeOfDayList(rw.Stop)
		for _, e := range errs {
			problems = append(problems, fmt.Sprintf("schedule %q weekdays[%d]: %v", name, i, e))
		}
		weekdays = append(weekdays, WeekdayRule{Days: rw.Days, Start: start, Stop: stop})
	}

	holidays := make([]HolidayWindow, 0, len(rs.Holidays))
	for i, rh := range rs.Holidays {
		stop, err := parseHolidayTimestamp(rh.Stop, loc)
		if err != nil {
			problems = append(problems, fmt.Sprintf("schedule %q holidays[%d]: stop: %v", name, i, err))
		}
		start, err := parseHolidayTimestamp(rh.Start, loc)
		if err != nil {
			problems = append(problems, fmt.Sprintf("schedule %q holidays[%d]: start: %v", name, i, err))
		}
		if !stop.IsZero() && !start.IsZero() && !stop.Before(start) {
			problems = append(problems, fmt.Sprintf("schedule %q holidays[%d]: stop %s must be before start %s", name, i, stop, start))
		}
		holidays = append(holidays, HolidayWindow{Stop: stop, Start: start})
	}

	return Schedule{Name: name, Location: loc, Weekdays: weekdays, Holidays: holidays}, problems
}

func parseTimeOfDayList(raw stringOrList) ([]TimeOfDay, []error) {
	var out []TimeOfDay
	var errs []error
	for _, s := range raw {
		tod, err := parseTimeOfDay(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, tod)
	}
	return out, errs
}

var holidayLayouts = []string{"2006-01-02 15:04:05", "2006-01-02 15:04"}

func parseHolidayTimestamp(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	var lastErr error
	for _, layout := range holidayLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

func normalizeEnvironment(name string, re rawEnvironment, schedules map[string]Schedule) (Environment, []string) {
	var problems []string

	if len(re.Namespaces) == 0 {
		problems = append(problems, fmt.Sprintf("environment %q: at least one namespace is required", name))
	}
	if _, ok := schedules[re.Schedule]; !ok {
		problems = append(problems, fmt.Sprintf("environment %q: unknown schedule %q", name, re.Schedule))
	}

	var batch *BatchPolicy
	if re.Batch != nil {
		if re.Batch.Size < 0 {
			problems = append(problems, fmt.Sprintf("environment %q: batch size must be >= 0", name))
		}
		if re.Batch.Timeout < 0 {
			problems = append(problems, fmt.Sprintf("environment %q: batch timeout must be >= 0", name))
		}
		batch = &BatchPolicy{Size: re.Batch.Size, Timeout: time.Duration(re.Batch.Timeout) * time.Second}
	}

	return Environment{
		Name:       name,
		Namespaces: re.Namespaces,
		Schedule:   re.Schedule,
		Batch:      batch,
	}, problems
}

// ScheduleFor resolves an Environment's Schedule reference.
func (c *Config) ScheduleFor(env Environment) (Schedule, bool) {
	s, ok := c.Schedules[env.Schedule]
	return s, ok
}
