//go:build rp2040

package platform

import (
	"fastarduino/services/hal/internal/core"
	"fastarduino/services/hal/internal/platform/provider"

	_ "fastarduino/services/hal/internal/platform/boards"
)

func GetResources() core.Resources {
	return core.Resources{
		Reg: provider.NewResourceRegistry(),
	}
}
