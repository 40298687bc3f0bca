package registry

import "github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"

// transitions is the allowed-transition relation of the install state
// machine. A bundle with no tracked state may only enter InstallStart.
var transitions = map[types.InstallState][]types.InstallState{
	types.InstallStart:    {types.InstallSuccess, types.InstallFail},
	types.InstallSuccess:  {types.UpdatingStart, types.UninstallStart, types.RollBack, types.UserChange},
	types.UpdatingStart:   {types.UpdatingSuccess, types.UpdatingFail, types.InstallStart, types.UserChange},
	types.UpdatingSuccess: {types.UninstallStart, types.UpdatingStart, types.UserChange},
	types.RollBack:        {types.UpdatingStart, types.UpdatingSuccess},
	types.UninstallStart:  {types.UninstallSuccess, types.UninstallFail, types.UserChange},
	types.UserChange:      {types.InstallSuccess, types.UpdatingSuccess, types.UpdatingStart},
}

// allowed reports whether (from, to) is in the transition relation.
func allowed(from, to types.InstallState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// quickFixTransitions is the patch overlay state machine, tracked
// alongside (not merged into) the primary install state.
var quickFixTransitions = map[types.QuickFixStatus][]types.QuickFixStatus{
	types.QuickFixNotDeployed: {types.QuickFixDeployStart},
	types.QuickFixDeployStart: {types.QuickFixDeployEnd, types.QuickFixNotDeployed},
	types.QuickFixDeployEnd:   {types.QuickFixDeployStart, types.QuickFixNotDeployed},
}

func quickFixAllowed(from, to types.QuickFixStatus) bool {
	for _, next := range quickFixTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
