package job

import (
	"errors"
	"fmt"
	"strings"
)

// Variant names one configuration of the FLUX model family.
type Variant string

const (
	VariantDev        Variant = "flux-dev"
	VariantPro        Variant = "flux-pro-1.1"
	VariantUltra      Variant = "flux-pro-1.1-ultra"
	VariantKontextPro Variant = "flux-kontext-pro"
	VariantKontextMax Variant = "flux-kontext-max"
)

// Variants lists every canonical variant in declaration order.
var Variants = []Variant{VariantDev, VariantPro, VariantUltra, VariantKontextPro, VariantKontextMax}

var variantPaths = map[Variant]string{
	VariantDev:        "/v1/flux-dev",
	VariantPro:        "/v1/flux-pro-1.1",
	VariantUltra:      "/v1/flux-pro-1.1-ultra",
	VariantKontextPro: "/v1/flux-kontext-pro",
	VariantKontextMax: "/v1/flux-kontext-max",
}

var variantAliases = map[string]Variant{
	"base":                VariantDev,
	"dev":                 VariantDev,
	"pro":                 VariantPro,
	"high-fidelity":       VariantPro,
	"ultra":               VariantUltra,
	"high-resolution":     VariantUltra,
	"kontext-pro":         VariantKontextPro,
	"image-conditioned-a": VariantKontextPro,
	"kontext-max":         VariantKontextMax,
	"image-conditioned-b": VariantKontextMax,
}

// ErrInvalidModel is matched by every InvalidModelError.
var ErrInvalidModel = errors.New("invalid model")

// InvalidModelError reports an unrecognised model selector.
type InvalidModelError struct {
	Name string
}

func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("invalid model %q: valid models are %s", e.Name, strings.Join(VariantNames(), ", "))
}

func (e *InvalidModelError) Is(target error) bool {
	return target == ErrInvalidModel
}

// ParseVariant resolves a canonical name or alias, ignoring case and surrounding space.
func ParseVariant(name string) (Variant, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if _, ok := variantPaths[Variant(n)]; ok {
		return Variant(n), nil
	}
	if v, ok := variantAliases[n]; ok {
		return v, nil
	}
	return "", &InvalidModelError{Name: name}
}

// Path returns the provider endpoint path for v, or "" for an unknown variant.
func (v Variant) Path() string {
	return variantPaths[v]
}

// ImageConditioned reports whether v edits a supplied input image.
func (v Variant) ImageConditioned() bool {
	return v == VariantKontextPro || v == VariantKontextMax
}

// VariantNames returns the canonical names as strings, for schema enums.
func VariantNames() []string {
	names := make([]string, len(Variants))
	for i, v := range Variants {
		names[i] = string(v)
	}
	return names
}
