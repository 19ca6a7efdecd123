// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package i2c implements the host side of the I2C shared function
// contract (§6): a fixed set of shared-function indices a program may
// define to let the host manage I2C routing, plus the upstream event
// shape a device reports a bus transaction through.
package i2c

import "github.com/fluxpilot/pilot/vm"

// Reserved shared function indices (§6). init_program doubles as the
// program-wide init hook a loaded image may define at shared index 0;
// 1-3 are the routing table operations.
const (
	FuncInitProgram = 0
	FuncGetRoutes   = 1
	FuncAddRoute    = 2
	FuncRemoveRoute = 3
)

// RouteTarget is one (machine, function) pair that receives a routed I2C
// event for a given bus address.
type RouteTarget struct {
	MachineID  uint16
	FunctionID uint16
}

// Route is one entry of the program's I2C routing table: a bus address
// fanning out to one or more machine/function targets.
type Route struct {
	BusID       uint8
	Address7Bit uint8
	Targets     []RouteTarget
}

// SharedCaller is satisfied by anything that can invoke a program's
// shared functions and return their results synchronously, such as a
// local *driver.Driver. *dispatch.Dispatcher does not satisfy it: its
// CallShared only sends the request and returns an error.
type SharedCaller interface {
	CallShared(function int, args []vm.StackWord) ([]vm.StackWord, error)
}

// InitProgram runs the program's init_program shared function.
func InitProgram(c SharedCaller) error {
	_, err := c.CallShared(FuncInitProgram, nil)
	return err
}

// GetRoutes fetches the program's current I2C routing table.
func GetRoutes(c SharedCaller) ([]Route, error) {
	values, err := c.CallShared(FuncGetRoutes, nil)
	if err != nil {
		return nil, err
	}
	return decodeRoutes(values)
}

// AddRoute adds a routing entry; the host MUST refresh via GetRoutes
// afterward (§6) since the program's add_route has no return value.
func AddRoute(c SharedCaller, busID, address7Bit uint8, target RouteTarget) error {
	_, err := c.CallShared(FuncAddRoute, []vm.StackWord{
		vm.StackWord(busID), vm.StackWord(address7Bit),
		vm.StackWord(target.MachineID), vm.StackWord(target.FunctionID),
	})
	return err
}

// RemoveRoute removes a routing entry with the same argument shape as AddRoute.
func RemoveRoute(c SharedCaller, busID, address7Bit uint8, target RouteTarget) error {
	_, err := c.CallShared(FuncRemoveRoute, []vm.StackWord{
		vm.StackWord(busID), vm.StackWord(address7Bit),
		vm.StackWord(target.MachineID), vm.StackWord(target.FunctionID),
	})
	return err
}

// decodeRoutes parses get_routes' flat word list: entry_count, then per
// entry (bus_id, address_7bit, target_count, (machine_id, function_id) x
// target_count), per §6 verbatim.
func decodeRoutes(values []vm.StackWord) ([]Route, error) {
	pos := 0
	next := func() (vm.StackWord, error) {
		if pos >= len(values) {
			return 0, ErrMalformedRouteTable
		}
		v := values[pos]
		pos++
		return v, nil
	}

	entryCount, err := next()
	if err != nil {
		return nil, err
	}

	// entryCount comes straight off the wire; cap the preallocation at
	// the remaining word count rather than trusting it outright, since
	// each entry consumes at least 3 words.
	prealloc := entryCount
	if remaining := vm.StackWord(len(values) - pos); prealloc > remaining/3 {
		prealloc = remaining / 3
	}
	routes := make([]Route, 0, prealloc)
	for i := vm.StackWord(0); i < entryCount; i++ {
		busID, err := next()
		if err != nil {
			return nil, err
		}
		addr, err := next()
		if err != nil {
			return nil, err
		}
		targetCount, err := next()
		if err != nil {
			return nil, err
		}

		route := Route{BusID: uint8(busID), Address7Bit: uint8(addr)}
		for j := vm.StackWord(0); j < targetCount; j++ {
			machineID, err := next()
			if err != nil {
				return nil, err
			}
			functionID, err := next()
			if err != nil {
				return nil, err
			}
			route.Targets = append(route.Targets, RouteTarget{
				MachineID:  uint16(machineID),
				FunctionID: uint16(functionID),
			})
		}
		routes = append(routes, route)
	}

	if pos != len(values) {
		return nil, ErrMalformedRouteTable
	}
	return routes, nil
}
