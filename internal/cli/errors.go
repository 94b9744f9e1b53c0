package cli

import "errors"

// ErrSimulationStuck — прогон в памяти не сошёлся за отведённое число вызовов.
var ErrSimulationStuck = errors.New("simulation did not converge")
