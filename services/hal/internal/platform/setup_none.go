//go:build !(pico && (pico_rich_dev || pico_bb_proto_1))

package platform

import (
	"fastarduino/services/hal/internal/platform/setups"
	"fastarduino/types"
)

func getSelectedSetup() types.HALConfig    { return types.HALConfig{} }
func getSelectedPlan() setups.ResourcePlan { return setups.ResourcePlan{} }
