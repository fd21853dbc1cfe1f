package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-habit-backend/internal/domain"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	if err := validate.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, _, err := domain.ParseClock(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(fmt.Sprintf("register clock validator: %v", err))
	}
}

// routineFields is the validated shape of a routine, shared by create and
// update so both paths enforce the same rules.
type routineFields struct {
	Title             string  `validate:"required,max=120"`
	Description       string  `validate:"max=500"`
	Recurrence        string  `validate:"required,oneof=daily weekdays weekends custom"`
	CustomDays        []int   `validate:"omitempty,max=7,dive,min=0,max=6"`
	TimeStart         string  `validate:"required,clock"`
	TimeEnd           *string `validate:"omitempty,clock"`
	Timezone          string  `validate:"required,timezone"`
	ToleranceMinutes  int     `validate:"min=0,max=240"`
	MinSessionMinutes int     `validate:"min=0,max=600"`
	Difficulty        int     `validate:"min=1,max=5"`
}

// validateRoutine checks r and returns ErrInvalidRoutine wrapped with the
// first failing field.
func validateRoutine(r *domain.Routine) error {
	f := routineFields{
		Title:             r.Title,
		Description:       r.Description,
		Recurrence:        r.Recurrence,
		CustomDays:        r.CustomDays,
		TimeStart:         r.TimeStart,
		TimeEnd:           r.TimeEnd,
		Timezone:          r.Timezone,
		ToleranceMinutes:  r.ToleranceMinutes,
		MinSessionMinutes: r.MinSessionMinutes,
		Difficulty:        r.Difficulty,
	}
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidRoutine, toSnake(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidRoutine, err)
	}
	rec, err := domain.ParseRecurrence(r.Recurrence, r.CustomDays)
	if err != nil {
		return fmt.Errorf("%w: recurrence: %v", ErrInvalidRoutine, err)
	}
	r.SetSchedule(rec)
	if r.TimeEnd != nil && *r.TimeEnd <= r.TimeStart {
		return fmt.Errorf("%w: time_end must be after time_start", ErrInvalidRoutine)
	}
	return nil
}

// normalizeText applies NFC, trims, and collapses whitespace runs.
func normalizeText(s string) string {
	s = norm.NFC.String(s)
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

var snakeRE = regexp.MustCompile(`([a-z0-9])([A-Z])`)

func toSnake(s string) string {
	return strings.ToLower(snakeRE.ReplaceAllString(s, "${1}_${2}"))
}
