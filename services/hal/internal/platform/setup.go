package platform

import (
	"fastarduino/services/hal/internal/platform/setups"
	"fastarduino/types"
)

// Public accessors used by hal.Run and the provider.
func GetInitialConfig() types.HALConfig    { return getSelectedSetup() }
func GetSelectedPlan() setups.ResourcePlan { return getSelectedPlan() }
