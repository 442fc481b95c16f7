package push

import "github.com/b-open-io/flagpush/internal/utils"

// Metadata identifies the SDK instance to the control plane.
type Metadata struct {
	SDKVersion  string
	MachineName string
	MachineIP   string
}

// Headers returns the SDK metadata headers sent on auth and streaming
// requests. Empty values are omitted.
func (m Metadata) Headers(sdkKey string) map[string]string {
	h := make(map[string]string, 4)
	if m.SDKVersion != "" {
		h["SplitSDKVersion"] = m.SDKVersion
	}
	if m.MachineName != "" {
		h["SplitSDKMachineName"] = m.MachineName
	}
	if m.MachineIP != "" {
		h["SplitSDKMachineIP"] = m.MachineIP
	}
	if sdkKey != "" {
		h["SplitSDKClientKey"] = utils.KeyHint(sdkKey)
	}
	return h
}
