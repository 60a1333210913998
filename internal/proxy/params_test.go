package proxy

import "testing"

func TestResolveLoadParams_OverrideWinsOverDefault(t *testing.T) {
	base := GlobalDefaults{NCtx: 4096, NGPULayers: 0, NThreads: 8}
	override := Overrides{NGPULayers: 32, OverrideTensor: "blk.*.ffn_up=CPU"}

	params, err := ResolveLoadParams(base, override)
	if err != nil {
		t.Fatalf("ResolveLoadParams: %v", err)
	}
	if params.NCtx != 4096 {
		t.Errorf("NCtx = %d, want inherited 4096", params.NCtx)
	}
	if params.NGPULayers != 32 {
		t.Errorf("NGPULayers = %d, want overridden 32", params.NGPULayers)
	}
	if params.NThreads != 8 {
		t.Errorf("NThreads = %d, want inherited 8", params.NThreads)
	}
	if params.OverrideTensor != "blk.*.ffn_up=CPU" {
		t.Errorf("OverrideTensor = %q, want override value", params.OverrideTensor)
	}
}

func TestResolveLoadParams_NoOverrideKeepsDefaults(t *testing.T) {
	base := GlobalDefaults{NCtx: 2048, NGPULayers: 10, NThreads: 4}

	params, err := ResolveLoadParams(base, Overrides{})
	if err != nil {
		t.Fatalf("ResolveLoadParams: %v", err)
	}
	if params.NCtx != 2048 || params.NGPULayers != 10 || params.NThreads != 4 {
		t.Errorf("params = %+v, want unchanged defaults", params)
	}
}
