//go:build pico && (pico_rich_dev || pico_bb_proto_1)

package provider

import (
	"fastarduino/services/hal/internal/provider/setups"
	"fastarduino/types"
)

func init() {
	SelectedPlan = setups.SelectedPlan
	InitialHALConfig = types.HALConfig(setups.SelectedSetup)
}
