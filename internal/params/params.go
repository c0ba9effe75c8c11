// Package params declares the per-variant generation requests and turns a
// loosely typed argument map into the payload submitted to the provider.
package params

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/fluxmcp/internal/job"
)

// Each variant accepts exactly the fields of its request struct. Optional
// fields are pointers so that an absent value is never sent.

// DevRequest is the flux-dev payload.
type DevRequest struct {
	Prompt           string   `json:"prompt" validate:"required,notblank"`
	ImagePrompt      *string  `json:"image_prompt,omitempty"`
	Width            *int     `json:"width,omitempty" validate:"omitnil,min=256,max=1440,multiple32"`
	Height           *int     `json:"height,omitempty" validate:"omitnil,min=256,max=1440,multiple32"`
	Steps            *int     `json:"steps,omitempty" validate:"omitnil,min=1,max=50"`
	PromptUpsampling *bool    `json:"prompt_upsampling,omitempty"`
	Seed             *int     `json:"seed,omitempty" validate:"omitnil,min=0,max=2147483647"`
	Guidance         *float64 `json:"guidance,omitempty" validate:"omitnil,min=1.5,max=5"`
	SafetyTolerance  *int     `json:"safety_tolerance,omitempty" validate:"omitnil,min=0,max=6"`
	OutputFormat     *string  `json:"output_format,omitempty" validate:"omitnil,oneof=jpeg png"`
}

// ProRequest is the flux-pro-1.1 payload.
type ProRequest struct {
	Prompt           string  `json:"prompt" validate:"required,notblank"`
	ImagePrompt      *string `json:"image_prompt,omitempty"`
	Width            *int    `json:"width,omitempty" validate:"omitnil,min=256,max=1440,multiple32"`
	Height           *int    `json:"height,omitempty" validate:"omitnil,min=256,max=1440,multiple32"`
	PromptUpsampling *bool   `json:"prompt_upsampling,omitempty"`
	Seed             *int    `json:"seed,omitempty" validate:"omitnil,min=0,max=2147483647"`
	SafetyTolerance  *int    `json:"safety_tolerance,omitempty" validate:"omitnil,min=0,max=6"`
	OutputFormat     *string `json:"output_format,omitempty" validate:"omitnil,oneof=jpeg png"`
}

// UltraRequest is the flux-pro-1.1-ultra payload.
type UltraRequest struct {
	Prompt              string   `json:"prompt" validate:"required,notblank"`
	ImagePrompt         *string  `json:"image_prompt,omitempty"`
	ImagePromptStrength *float64 `json:"image_prompt_strength,omitempty" validate:"omitnil,min=0,max=1"`
	AspectRatio         *string  `json:"aspect_ratio,omitempty" validate:"omitnil,aspectratio"`
	Seed                *int     `json:"seed,omitempty" validate:"omitnil,min=0,max=2147483647"`
	Raw                 *bool    `json:"raw,omitempty"`
	SafetyTolerance     *int     `json:"safety_tolerance,omitempty" validate:"omitnil,min=0,max=6"`
	OutputFormat        *string  `json:"output_format,omitempty" validate:"omitnil,oneof=jpeg png"`
}

// KontextRequest is the payload shared by the image-conditioned variants.
type KontextRequest struct {
	Prompt           string  `json:"prompt" validate:"required,notblank"`
	InputImage       string  `json:"input_image" validate:"required,notblank"`
	AspectRatio      *string `json:"aspect_ratio,omitempty" validate:"omitnil,aspectratio"`
	Seed             *int    `json:"seed,omitempty" validate:"omitnil,min=0,max=2147483647"`
	PromptUpsampling *bool   `json:"prompt_upsampling,omitempty"`
	SafetyTolerance  *int    `json:"safety_tolerance,omitempty" validate:"omitnil,min=0,max=6"`
	OutputFormat     *string `json:"output_format,omitempty" validate:"omitnil,oneof=jpeg png"`
}

var requestTypes = map[job.Variant]reflect.Type{
	job.VariantDev:        reflect.TypeFor[DevRequest](),
	job.VariantPro:        reflect.TypeFor[ProRequest](),
	job.VariantUltra:      reflect.TypeFor[UltraRequest](),
	job.VariantKontextPro: reflect.TypeFor[KontextRequest](),
	job.VariantKontextMax: reflect.TypeFor[KontextRequest](),
}

var descriptions = map[string]string{
	"prompt":                "Text description of the image to generate",
	"image_prompt":          "Reference image as URL or base64 to guide composition",
	"width":                 "Image width in pixels (256-1440, multiple of 32)",
	"height":                "Image height in pixels (256-1440, multiple of 32)",
	"steps":                 "Number of diffusion steps (flux-dev)",
	"prompt_upsampling":     "Let the provider rewrite the prompt for more detail",
	"seed":                  "Seed for reproducible results",
	"guidance":              "Guidance scale (flux-dev)",
	"safety_tolerance":      "Moderation tolerance, 0 (strict) to 6 (permissive)",
	"output_format":         "Output image format",
	"image_prompt_strength": "How strongly the reference image steers the result (ultra)",
	"aspect_ratio":          "Aspect ratio as W:H, between 21:9 and 9:21 (ultra and kontext models)",
	"raw":                   "Less processed, more natural looking output (ultra)",
	"input_image":           "Image to edit, as URL or base64 (kontext models)",
}

// reserved names are consumed by the orchestrator and never forwarded.
var reserved = []string{"model", "wait"}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(jsonName)
	mustRegister(v, "notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	mustRegister(v, "multiple32", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%32 == 0
	})
	mustRegister(v, "aspectratio", func(fl validator.FieldLevel) bool {
		return validAspectRatio(fl.Field().String())
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("registering %s validation: %v", tag, err))
	}
}

func jsonName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if name == "" {
		return sf.Name
	}
	return name
}

// Kind is the JSON type of a parameter.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindNumber
	KindBool
)

// Field describes one provider parameter for tool-schema declaration.
type Field struct {
	Name        string
	Kind        Kind
	Description string
	Min, Max    float64 // set when Max > Min
	Enum        []string
	Required    bool
}

// Fields returns the union of all variant fields, first declaration wins.
// Required is cleared for fields that only some variants require.
func Fields() []Field {
	var out []Field
	index := make(map[string]int)
	count := make(map[string]int)
	for _, v := range job.Variants {
		t := requestTypes[v]
		for i := range t.NumField() {
			f := describe(t.Field(i))
			count[f.Name]++
			if _, ok := index[f.Name]; ok {
				continue
			}
			index[f.Name] = len(out)
			out = append(out, f)
		}
	}
	for i := range out {
		if out[i].Required && count[out[i].Name] != len(job.Variants) {
			out[i].Required = false
		}
	}
	return out
}

// describe derives the schema of one request field from its type and
// validation tag.
func describe(sf reflect.StructField) Field {
	f := Field{Name: jsonName(sf)}
	f.Description = descriptions[f.Name]

	t := sf.Type
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		f.Kind = KindBool
	case reflect.Int:
		f.Kind = KindInt
	case reflect.Float64:
		f.Kind = KindNumber
	default:
		f.Kind = KindString
	}

	for _, rule := range strings.Split(sf.Tag.Get("validate"), ",") {
		key, val, _ := strings.Cut(rule, "=")
		switch key {
		case "required":
			f.Required = true
		case "min":
			f.Min, _ = strconv.ParseFloat(val, 64)
		case "max":
			f.Max, _ = strconv.ParseFloat(val, 64)
		case "oneof":
			f.Enum = strings.Fields(val)
		}
	}
	return f
}

// ValidationError reports a parameter that failed its constraints.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Message)
}

// Build validates args for variant v and returns the provider payload.
// Reserved and undeclared keys are dropped; absent and null values are omitted.
// String values are forwarded unchanged, except enumerations which are
// matched case-insensitively.
func Build(v job.Variant, args map[string]any) (map[string]any, error) {
	t, ok := requestTypes[v]
	if !ok {
		return nil, &job.InvalidModelError{Name: string(v)}
	}

	req := reflect.New(t).Elem()
	declared := make(map[string]bool, t.NumField())
	for i := range t.NumField() {
		sf := t.Field(i)
		name := jsonName(sf)
		declared[name] = true

		raw, present := args[name]
		if !present || raw == nil {
			continue
		}
		fold := strings.Contains(sf.Tag.Get("validate"), "oneof=")
		if err := assign(req.Field(i), raw, fold); err != nil {
			return nil, &ValidationError{Field: name, Message: err.Error()}
		}
	}
	for name := range args {
		if !declared[name] && !isReserved(name) {
			slog.Debug("dropping parameter not accepted by model", "param", name, "variant", v)
		}
	}

	if err := validate.Struct(req.Interface()); err != nil {
		return nil, validationError(v, err)
	}
	return payload(req), nil
}

func isReserved(name string) bool {
	for _, r := range reserved {
		if r == name {
			return true
		}
	}
	return false
}

// payload lists the fields that are set, keyed by their wire names.
func payload(req reflect.Value) map[string]any {
	t := req.Type()
	out := make(map[string]any, t.NumField())
	for i := range t.NumField() {
		fv := req.Field(i)
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		} else if fv.IsZero() {
			continue
		}
		out[jsonName(t.Field(i))] = fv.Interface()
	}
	return out
}

func validationError(v job.Variant, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "required for " + string(v)
	case "notblank":
		msg = "must not be empty"
	case "min":
		msg = "must be at least " + fe.Param()
	case "max":
		msg = "must be at most " + fe.Param()
	case "oneof":
		msg = "must be one of " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "multiple32":
		msg = "must be a multiple of 32"
	case "aspectratio":
		msg = "must look like W:H, between 21:9 and 9:21"
	default:
		msg = "failed " + fe.Tag()
	}
	return &ValidationError{Field: fe.Field(), Message: msg}
}

func validAspectRatio(s string) bool {
	w, h, ok := strings.Cut(s, ":")
	if !ok {
		return false
	}
	wi, err1 := strconv.Atoi(w)
	hi, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || wi <= 0 || hi <= 0 {
		return false
	}
	r := float64(wi) / float64(hi)
	return r <= 21.0/9.0 && r >= 9.0/21.0
}
