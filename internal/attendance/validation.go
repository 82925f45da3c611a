package attendance

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"presence/internal/calendar"
	"presence/internal/model"
)

var (
	// ErrNotFound is returned when a student does not exist.
	ErrNotFound = errors.New("student not found")

	validate   = validator.New()
	translator ut.Translator

	classIDTag  = "classid"
	classIDText = "{0} must be morning or afternoon"
	isoDateTag  = "isodate"
	isoDateText = "{0} must be a YYYY-MM-DD date"
	hhmmTag     = "hhmm"
	hhmmText    = "{0} must be an HH:mm time"
	notBlankTag = "notblank"
	notBlank    = "{0} cannot be empty"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError rejects input before any store call.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed"
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func init() {
	locale := en.New()
	translator, _ = ut.New(locale, locale).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(classIDTag, func(fl validator.FieldLevel) bool {
		return model.ClassID(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation(isoDateTag, func(fl validator.FieldLevel) bool {
		_, err := calendar.ParseDate(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation(hhmmTag, func(fl validator.FieldLevel) bool {
		_, err := calendar.ParseArrivalTime(fl.Field().String())
		return err == nil
	})
	validate.RegisterStructValidation(studentUpdateValidation, model.StudentUpdate{})
	validate.RegisterStructValidation(settingValidation, model.Setting{})

	registerTranslation(classIDTag, classIDText)
	registerTranslation(isoDateTag, isoDateText)
	registerTranslation(hhmmTag, hhmmText)
	registerTranslation(notBlankTag, notBlank)
}

func registerTranslation(tag, text string) {
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// studentUpdateValidation rejects fields that are present but blank.
func studentUpdateValidation(sl validator.StructLevel) {
	upd := sl.Current().Interface().(model.StudentUpdate)
	if upd.FirstName != nil && strings.TrimSpace(*upd.FirstName) == "" {
		sl.ReportError(*upd.FirstName, "firstName", "FirstName", notBlankTag, "")
	}
	if upd.LastName != nil && strings.TrimSpace(*upd.LastName) == "" {
		sl.ReportError(*upd.LastName, "lastName", "LastName", notBlankTag, "")
	}
	if upd.ClassID != nil && !upd.ClassID.Valid() {
		sl.ReportError(string(*upd.ClassID), "classId", "ClassID", classIDTag, "")
	}
}

// settingValidation requires the formation bounds to be dates.
func settingValidation(sl validator.StructLevel) {
	s := sl.Current().Interface().(model.Setting)
	switch s.Key {
	case model.SettingFormationStart, model.SettingFormationEnd:
		if _, err := calendar.ParseDate(s.Value); err != nil && s.Value != "" {
			sl.ReportError(s.Value, "value", "Value", isoDateTag, "")
		}
	}
}

// check validates v and converts failures into a ValidationError.
func check(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fieldPath(fe), Error: fe.Translate(translator)})
	}
	return NewValidationError(errors.New("invalid input"), fields...)
}

// fieldPath drops the root struct name from the namespace, keeping nested
// paths like presentStudentsData[0].arrivalTime.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}
