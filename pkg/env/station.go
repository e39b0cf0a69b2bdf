package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

const appID = "otprovision"

// StationID identifies this bench in reports. It is derived from the
// machine ID, falling back to the host name.
func StationID() string {
	id, err := machineid.ProtectedID(appID)
	if err == nil {
		if len(id) > 12 {
			id = id[:12]
		}
		return id
	}
	glog.V(2).Infof("machine id unavailable: %v", err)
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
