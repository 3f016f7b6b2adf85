// Package schedule — планировщик бэкапов по cron-выражению.
package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Expression — разобранное пятипольное cron-выражение
// (minute hour day-of-month month day-of-week).
// Поддерживаются `*`, списки, диапазоны и шаг `*/n`.
type Expression struct {
	minute fieldSet
	hour   fieldSet
	dom    fieldSet
	month  fieldSet
	dow    fieldSet

	// Классическая cron-семантика: когда ограничены и день месяца, и день
	// недели, срабатывание идёт по любому из них.
	domStar bool
	dowStar bool
}

// fieldSet — битовая маска допустимых значений поля.
type fieldSet uint64

func (f fieldSet) has(v int) bool { return f&(1<<uint(v)) != 0 }

type fieldSpec struct {
	name     string
	min, max int
}

var fieldSpecs = [5]fieldSpec{
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day-of-month", min: 1, max: 31},
	{name: "month", min: 1, max: 12},
	{name: "day-of-week", min: 0, max: 7}, // 7 — синоним воскресенья
}

// Parse разбирает cron-выражение. Ошибка формата — ошибка конфигурации,
// останавливающая запуск.
func Parse(expr string) (*Expression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, errors.Errorf("cron expression %q: want 5 fields, got %d", expr, len(fields))
	}

	var sets [5]fieldSet
	for i, field := range fields {
		set, err := parseField(field, fieldSpecs[i])
		if err != nil {
			return nil, errors.Wrapf(err, "cron expression %q", expr)
		}
		sets[i] = set
	}

	e := &Expression{
		minute:  sets[0],
		hour:    sets[1],
		dom:     sets[2],
		month:   sets[3],
		dow:     sets[4],
		domStar: fields[2] == "*",
		dowStar: fields[4] == "*",
	}
	// Нормализация: воскресенье допустимо и как 0, и как 7.
	if e.dow.has(7) {
		e.dow |= 1 // bit 0
	}
	return e, nil
}

func parseField(field string, spec fieldSpec) (fieldSet, error) {
	var set fieldSet
	for _, part := range strings.Split(field, ",") {
		partSet, err := parsePart(part, spec)
		if err != nil {
			return 0, err
		}
		set |= partSet
	}
	return set, nil
}

func parsePart(part string, spec fieldSpec) (fieldSet, error) {
	step := 1
	if base, stepStr, found := strings.Cut(part, "/"); found {
		parsed, err := strconv.Atoi(stepStr)
		if err != nil || parsed <= 0 {
			return 0, errors.Errorf("%s: bad step %q", spec.name, stepStr)
		}
		step = parsed
		part = base
	}

	lo, hi := spec.min, spec.max
	switch {
	case part == "*":
		// полный диапазон
	case strings.Contains(part, "-"):
		fromStr, toStr, _ := strings.Cut(part, "-")
		from, err1 := strconv.Atoi(fromStr)
		to, err2 := strconv.Atoi(toStr)
		if err1 != nil || err2 != nil {
			return 0, errors.Errorf("%s: bad range %q", spec.name, part)
		}
		lo, hi = from, to
	default:
		v, err := strconv.Atoi(part)
		if err != nil {
			return 0, errors.Errorf("%s: bad value %q", spec.name, part)
		}
		lo, hi = v, v
	}

	if lo < spec.min || hi > spec.max || lo > hi {
		return 0, errors.Errorf("%s: value out of range %d-%d", spec.name, spec.min, spec.max)
	}

	var set fieldSet
	for v := lo; v <= hi; v += step {
		set |= 1 << uint(v)
	}
	return set, nil
}

// Matches проверяет срабатывание в данную минуту (секунды игнорируются).
func (e *Expression) Matches(t time.Time) bool {
	if !e.minute.has(t.Minute()) || !e.hour.has(t.Hour()) || !e.month.has(int(t.Month())) {
		return false
	}

	domOK := e.dom.has(t.Day())
	dowOK := e.dow.has(int(t.Weekday()))
	switch {
	case e.domStar && e.dowStar:
		return true
	case e.domStar:
		return dowOK
	case e.dowStar:
		return domOK
	default:
		return domOK || dowOK
	}
}
