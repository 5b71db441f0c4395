// Package dfu implements the device side of the USB Device Firmware Upgrade
// 1.1 protocol with the DfuSe vendor command set.
//
// A [Machine] owns the device status, validates every class request
// against the current state and stages commands. Flash work is deferred:
// a GETSTATUS poll in dfuDNLOAD-SYNC schedules the staged command and
// reports a poll timeout, and the bus dispatcher later runs it with
// [Machine.FinishOperation] between USB transactions.
//
// # Commands
//
// A DNLOAD with wValue = 0 carries a command:
//
//	0x21 a0 a1 a2 a3   set address
//	0x41               mass erase
//	0x41 a0 a1 a2 a3   erase the page containing address
//	0x92               read unprotected
//
// A DNLOAD with wValue >= 2 carries firmware written at
// address + (wValue-2)*TransferSize. UPLOAD with wValue = 0 returns the
// supported tokens; with wValue >= 2 it reads the same block layout
// starting at the region entry.
//
// Failures never surface as Go errors on the device side. They put the
// machine in dfuERROR with a status code that the host reads through
// GETSTATUS and clears with CLRSTATUS.
package dfu
