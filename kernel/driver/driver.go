// Package driver defines the interface implemented by all device drivers and
// the registry that the boot-time hardware probe walks to bring them up in a
// deterministic order.
package driver

import (
	"io"
	"kestrel/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver, writing progress/diagnostic
	// output to w.
	DriverInit(w io.Writer) *kernel.Error
}

// ProbeFn attempts to detect a piece of hardware, returning the Driver for it
// or nil if the hardware is not present.
type ProbeFn func() Driver

// DetectOrder specifies the relative order in which a driver should be
// probed for during boot.
type DetectOrder uint8

// nolint
const (
	DetectOrderEarly DetectOrder = iota
	DetectOrderBeforeACPI
	DetectOrderACPI
	DetectOrderLast
)

// DriverInfo bundles a probe function together with its detect order so that
// the registry can sort drivers before invoking them.
type DriverInfo struct {
	Order DetectOrder
	Probe ProbeFn
}

// DriverInfoList implements sort.Interface, ordering entries by Order.
type DriverInfoList []*DriverInfo

func (l DriverInfoList) Len() int           { return len(l) }
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }
func (l DriverInfoList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

var registeredDrivers DriverInfoList

// RegisterDriver appends info to the list of registered drivers. Drivers
// call this from an init() block so that the registry is fully populated
// before the hardware probe runs.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the currently registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
