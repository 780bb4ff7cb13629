// Package device derives the stable identifier sent to the vendor as the
// user id.
package device

import (
	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// machineID is swapped in tests
var machineID = machineid.ProtectedID

// ID returns override when set. Otherwise it returns the host machine id,
// hashed with appName so it can't be correlated across applications. If the
// host has no machine id a random one is generated, which is only stable for
// the lifetime of the process.
func ID(log *zap.Logger, appName, override string) string {
	if override != "" {
		return override
	}

	id, err := machineID(appName)
	if err == nil && id != "" {
		return id
	}

	generated := uuid.NewString()
	log.With(zap.Error(err), zap.String("device_id", generated)).Warn("no machine id, using a random device id")
	return generated
}
