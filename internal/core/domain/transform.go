package domain

import "fmt"

type TransformKind string

const (
	TransformNone        TransformKind = "none"
	TransformBlur        TransformKind = "blur"
	TransformReplacement TransformKind = "replacement"
)

// ParseTransformKind accepts the two effect kinds a caller can start.
func ParseTransformKind(s string) (TransformKind, error) {
	switch k := TransformKind(s); k {
	case TransformBlur, TransformReplacement:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTransformKind, s)
	}
}

type TransformParams struct {
	// BlurStrength is a percentage; 0 selects the processor default.
	BlurStrength int
	// ImageURL is the absolute URL of the replacement background.
	ImageURL string
}

type TransformState struct {
	Kind               TransformKind
	UnderlyingDeviceID string
	PipelineID         string
}

func (s TransformState) Active() bool {
	return s.Kind != "" && s.Kind != TransformNone
}

// InactiveTransform is the state with no pipeline attached.
var InactiveTransform = TransformState{Kind: TransformNone}
