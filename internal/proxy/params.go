package proxy

import (
	"dario.cat/mergo"

	"llamagate/internal/worker"
)

// GlobalDefaults mirrors the model_manager section of the gateway config:
// n_ctx/n_gpu_layers/n_threads apply to every model unless overridden.
type GlobalDefaults struct {
	NCtx       int
	NGPULayers int
	NThreads   int
}

// Overrides mirrors one entry of the config's model_settings map. Zero
// values mean "inherit the global default"; overrides never propagate
// across models.
type Overrides struct {
	NCtx           int
	NGPULayers     int
	NThreads       int
	OverrideTensor string
	OffloadKQV     bool
}

// ResolveLoadParams overlays a per-model Overrides onto GlobalDefaults to
// produce the worker.LoadParams sent with LOAD. Uses dario.cat/mergo rather
// than hand-rolled field-by-field copying: base starts as the defaults and
// WithOverride lets any non-zero field in o win.
func ResolveLoadParams(base GlobalDefaults, o Overrides) (worker.LoadParams, error) {
	merged := worker.LoadParams{
		NCtx:       base.NCtx,
		NGPULayers: base.NGPULayers,
		NThreads:   base.NThreads,
	}
	overlay := worker.LoadParams{
		NCtx:           o.NCtx,
		NGPULayers:     o.NGPULayers,
		NThreads:       o.NThreads,
		OverrideTensor: o.OverrideTensor,
		OffloadKQV:     o.OffloadKQV,
	}
	if err := mergo.Merge(&merged, overlay, mergo.WithOverride); err != nil {
		return worker.LoadParams{}, err
	}
	return merged, nil
}
