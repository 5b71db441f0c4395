package dfu

import (
	"bytes"

	"github.com/ardnew/dfuboot/pkg"
)

// execute runs the staged command against flash. Any failure leaves the
// machine in dfuERROR with the matching status code; every address is
// checked before a flash primitive sees it.
func (m *Machine) execute() {
	region := m.cfg.Region

	switch m.cmd.Sub {
	case SubErasePage:
		if !region.Contains(m.cmd.Address) {
			m.fail(StatusErrAddress)
			return
		}
		page := region.PageBase(m.cmd.Address)
		if err := m.mem.Erase(page); err != nil {
			pkg.LogError(pkg.ComponentDFU, "erase failed", "addr", page, "error", err)
			m.fail(StatusErrErase)
			return
		}
		pkg.LogInfo(pkg.ComponentDFU, "page erased", "addr", page)

	case SubMassErase:
		for page := region.Entry; page < region.End; page += region.PageSize {
			if err := m.mem.Erase(page); err != nil {
				pkg.LogError(pkg.ComponentDFU, "mass erase failed", "addr", page, "error", err)
				m.fail(StatusErrErase)
				return
			}
		}
		pkg.LogInfo(pkg.ComponentDFU, "mass erase complete", "pages", region.Pages())

	case SubDownload:
		m.download()

	case SubSetAddress:
		if !region.Contains(m.cmd.Address) {
			m.fail(StatusErrAddress)
		}

	case SubReadUnprotected:
		// No protection to clear on this target.
		pkg.LogDebug(pkg.ComponentDFU, "read unprotected")

	default:
		pkg.LogDebug(pkg.ComponentDFU, "nothing to execute", "command", m.cmd.Sub)
	}
}

// download programs the staged payload in write-block chunks starting at
// the staged address plus the block offset.
func (m *Machine) download() {
	region := m.cfg.Region
	target := m.cmd.Address + m.blockOffset(m.cmd.Block)
	if !region.Contains(target) {
		pkg.LogWarn(pkg.ComponentDFU, "download out of range", "addr", target, "block", m.cmd.Block)
		m.fail(StatusErrAddress)
		return
	}

	n := region.Clip(target, m.cmd.Length)
	data := m.payload[:n]
	block := int(region.BlockSize)

	for off := 0; off < n; off += block {
		chunk := data[off:min(off+block, n)]
		addr := target + uint32(off)
		if err := m.mem.Write(addr, chunk); err != nil {
			pkg.LogError(pkg.ComponentDFU, "write failed", "addr", addr, "error", err)
			m.fail(StatusErrWrite)
			return
		}
		if !m.cfg.Verify {
			continue
		}
		readback := m.verify[:len(chunk)]
		if err := m.mem.Read(addr, readback); err != nil || !bytes.Equal(readback, chunk) {
			pkg.LogError(pkg.ComponentDFU, "verify failed", "addr", addr, "error", err)
			m.fail(StatusErrVerify)
			return
		}
	}
	pkg.LogDebug(pkg.ComponentDFU, "block written", "addr", target, "length", n)
}
