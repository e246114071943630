// Package ioperr defines the error numbers returned by IOP kernel services.
// RPC services report failures as negative statuses carrying one of these
// numbers.
package ioperr

import "fmt"

// Error is an IOP error number.
type Error int32

const (
	BadExce  Error = 50 // Bad exception
	NoExce   Error = 51 // Exception not found
	BusyExce Error = 52 // Exception in use

	InIRQ    Error = 100 // In IRQ context
	BadIRQ   Error = 101 // Bad IRQ
	CPUIntD  Error = 102 // CPU interrupts disabled
	IntD     Error = 103 // Interrupts disabled
	BusyHand Error = 104 // Handler in use
	NoHand   Error = 105 // Handler not found

	NoTimer  Error = 150 // Timer not found
	BadTimer Error = 151 // Bad timer

	BusyUnit Error = 160 // Unit in use
	NoUnit   Error = 161 // Unit not found
	NoRomdir Error = 162 // ROM directory not found

	Link    Error = 200 // Module linking error
	BadObj  Error = 201 // Object not module
	NoMod   Error = 202 // Module not found
	NoEnt   Error = 203 // No such file
	File    Error = 204 // File error
	BusyMem Error = 205 // Memory in use

	NoMem     Error = 400 // Out of memory
	BadAttr   Error = 401 // Bad attribute
	BadEntry  Error = 402 // Bad entry
	BadPrio   Error = 403 // Bad priority
	BadStSz   Error = 404 // Bad stack size
	BadMode   Error = 405 // Bad mode
	BadThr    Error = 406 // Bad thread
	NoThr     Error = 407 // Thread not found
	NoSem     Error = 408 // Semaphore not found
	NoEvf     Error = 409
	NoMbx     Error = 410
	NoVpl     Error = 411
	NoFpl     Error = 412
	Dorm      Error = 413
	NoDorm    Error = 414
	NoSusp    Error = 415
	BadWait   Error = 416
	NoWait    Error = 417
	RelWait   Error = 418
	SemZero   Error = 419
	SemOvf    Error = 420
	EvfCond   Error = 421
	EvfMulti  Error = 422
	EvfIlPat  Error = 423
	MboxNoMsg Error = 424
	WaitDel   Error = 425
	InvMemBlk Error = 426
	InvMemSz  Error = 427
)

var messages = map[Error]string{
	BadExce:  "bad exception",
	NoExce:   "exception not found",
	BusyExce: "exception in use",

	InIRQ:    "in IRQ context",
	BadIRQ:   "bad IRQ",
	CPUIntD:  "CPU interrupts disabled",
	IntD:     "interrupts disabled",
	BusyHand: "handler in use",
	NoHand:   "handler not found",

	NoTimer:  "timer not found",
	BadTimer: "bad timer",

	BusyUnit: "unit in use",
	NoUnit:   "unit not found",
	NoRomdir: "ROM directory not found",

	Link:    "module linking error",
	BadObj:  "object not module",
	NoMod:   "module not found",
	NoEnt:   "no such file",
	File:    "file error",
	BusyMem: "memory in use",

	NoMem:    "out of memory",
	BadAttr:  "bad attribute",
	BadEntry: "bad entry",
	BadPrio:  "bad priority",
	BadStSz:  "bad stack size",
	BadMode:  "bad mode",
	BadThr:   "bad thread",
	NoThr:    "thread not found",
	NoSem:    "semaphore not found",
}

func (e Error) Error() string {
	if msg, ok := messages[e]; ok {
		return fmt.Sprintf("iop error %d: %s", int32(e), msg)
	}
	switch e {
	case 0:
		return "iop error 0: success"
	case 1:
		return "iop error 1: error"
	}
	return fmt.Sprintf("iop error %d", int32(e))
}

// FromStatus converts an RPC result status to an error.  Nonnegative statuses
// indicate success and return nil.
func FromStatus(status int32) error {
	if status >= 0 {
		return nil
	}
	return Error(-status)
}
