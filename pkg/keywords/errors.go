package keywords

import "fmt"

// Layer names one source in the load chain
type Layer string

const (
	LayerSecureStore Layer = "secure_store"
	LayerBundled     Layer = "bundled"
	LayerHardcoded   Layer = "hardcoded"
)

// MalformedConfigError reports a layer whose document could not be used.
// Loading continues with the next layer.
type MalformedConfigError struct {
	Layer  Layer
	Source string
	Err    error
}

func (e *MalformedConfigError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("malformed keyword config in %s layer (%s): %v", e.Layer, e.Source, e.Err)
	}
	return fmt.Sprintf("malformed keyword config in %s layer: %v", e.Layer, e.Err)
}

func (e *MalformedConfigError) Unwrap() error { return e.Err }
